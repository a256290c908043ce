package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "authcore.auth.v1.AuthService"

// AuthServiceServer is the server API for AuthService. Requests and responses are
// google.protobuf.Struct messages whose fields are documented on each AuthServer method.
type AuthServiceServer interface {
	SendSignupOTP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifySignupOTP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Signup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyTwoFactorLogin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendPasswordResetOTP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WhoAmI(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAuditEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// protectedMethods require a Bearer access token.
var protectedMethods = []string{"WhoAmI", "ListSessions", "ListAuditEvents"}

// FullMethod returns the full gRPC method name for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// PublicMethods returns the full names of AuthService methods callable without an access token.
func PublicMethods() map[string]bool {
	protected := make(map[string]bool, len(protectedMethods))
	for _, m := range protectedMethods {
		protected[m] = true
	}
	out := make(map[string]bool)
	for _, m := range AuthService_ServiceDesc.Methods {
		if !protected[m.MethodName] {
			out[FullMethod(m.MethodName)] = true
		}
	}
	return out
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

type unaryMethod func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AuthService_ServiceDesc is the grpc.ServiceDesc for AuthService.
var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SendSignupOTP", AuthServiceServer.SendSignupOTP),
		unary("VerifySignupOTP", AuthServiceServer.VerifySignupOTP),
		unary("Signup", AuthServiceServer.Signup),
		unary("Login", AuthServiceServer.Login),
		unary("VerifyTwoFactorLogin", AuthServiceServer.VerifyTwoFactorLogin),
		unary("Refresh", AuthServiceServer.Refresh),
		unary("Logout", AuthServiceServer.Logout),
		unary("SendPasswordResetOTP", AuthServiceServer.SendPasswordResetOTP),
		unary("ResetPassword", AuthServiceServer.ResetPassword),
		unary("WhoAmI", AuthServiceServer.WhoAmI),
		unary("ListSessions", AuthServiceServer.ListSessions),
		unary("ListAuditEvents", AuthServiceServer.ListAuditEvents),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authcore/auth/v1/auth.proto",
}

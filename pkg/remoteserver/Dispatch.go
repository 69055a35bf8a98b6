package remoteserver

import (
	"context"
	"encoding/json"

	"github.com/wostzone/wost-session/pkg/communication"
	"github.com/wostzone/wost-session/pkg/rpc"
)

// Dispatch runs a JSON-RPC method and returns its result or a remote error
//  method is one of the rpc.Method... names
//  params are the raw request params
//  remoteAddr is the network address of the caller, used when the client didn't report one
func (srv *Server) Dispatch(ctx context.Context, method string, params json.RawMessage, remoteAddr string) (any, *communication.RemoteError) {
	switch method {
	case rpc.MethodConnect, rpc.MethodStatelessConnect:
		args := rpc.ConnectParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		if method == rpc.MethodStatelessConnect {
			return srv.StatelessConnect(args.Login)
		}
		return srv.Connect(args.Login, remoteAddr)

	case rpc.MethodGenerateSecret, rpc.MethodContexts, rpc.MethodServices,
		rpc.MethodMainUI, rpc.MethodLogout, rpc.MethodClose:
		args := rpc.HandleParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		return srv.dispatchHandle(method, args.Handle)

	case rpc.MethodLogin:
		args := rpc.LoginParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		return srv.Login(args.Handle, args.Login)

	case rpc.MethodResume:
		args := rpc.ResumeParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		if rpcErr := srv.Resume(args.Handle, args.SessionID); rpcErr != nil {
			return nil, rpcErr
		}
		return true, nil

	case rpc.MethodInvoke, rpc.MethodInvokeStateless:
		args := rpc.InvokeParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		if method == rpc.MethodInvokeStateless {
			return srv.InvokeStateless(ctx, &args)
		}
		return srv.Invoke(ctx, &args)

	case rpc.MethodResolveType:
		args := rpc.ResolveTypeParams{}
		if rpcErr := decodeParams(params, &args); rpcErr != nil {
			return nil, rpcErr
		}
		return srv.ResolveType(args.Name)
	}
	return nil, communication.NewRemoteError(communication.CodeMethodNotFound, "method '%s' not found", method)
}

// dispatchHandle runs the methods that only take a connection handle
func (srv *Server) dispatchHandle(method string, handle string) (any, *communication.RemoteError) {
	switch method {
	case rpc.MethodGenerateSecret:
		return srv.GenerateSecret(handle)
	case rpc.MethodContexts:
		return srv.ApplicableContexts(handle)
	case rpc.MethodServices:
		return srv.Services(handle)
	case rpc.MethodMainUI:
		return srv.MainUI(handle)
	case rpc.MethodLogout:
		if rpcErr := srv.Logout(handle); rpcErr != nil {
			return nil, rpcErr
		}
	case rpc.MethodClose:
		srv.Close(handle)
	}
	return true, nil
}

// HandleRequest runs a decoded JSON-RPC request and returns the response envelope
func (srv *Server) HandleRequest(ctx context.Context, req *rpc.Request, remoteAddr string) *rpc.Response {
	if req.JSONRPC != rpc.Version || req.Method == "" {
		return rpc.NewResponse(req.ID, nil,
			communication.NewRemoteError(communication.CodeInvalidRequest, "invalid request"))
	}
	result, rpcErr := srv.Dispatch(ctx, req.Method, req.Params, remoteAddr)
	return rpc.NewResponse(req.ID, result, rpcErr)
}

func decodeParams(params json.RawMessage, target any) *communication.RemoteError {
	if len(params) == 0 {
		return communication.NewRemoteError(communication.CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(params, target); err != nil {
		return communication.NewRemoteError(communication.CodeInvalidParams, "invalid params: %s", err)
	}
	return nil
}

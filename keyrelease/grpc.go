// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/bureau-foundation/enclave/lib/codec"
)

// CodecName is the gRPC content-subtype of key release messages.
const CodecName = "cbor"

// cborCodec carries messages as deterministic CBOR.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return codec.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
func (cborCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}

const (
	serviceName     = "enclave.keyrelease.v1.KeyAuthority"
	challengeMethod = "/" + serviceName + "/Challenge"
	releaseMethod   = "/" + serviceName + "/Release"
)

// AuthorityServer is the server side of the key authority service.
type AuthorityServer interface {
	Challenge(ctx context.Context, request *ChallengeRequest) (*ChallengeResponse, error)
	Release(ctx context.Context, request *ReleaseRequest) (*ReleaseResponse, error)
}

// RegisterAuthorityServer registers server on registrar.
func RegisterAuthorityServer(registrar grpc.ServiceRegistrar, server AuthorityServer) {
	registrar.RegisterService(&authorityServiceDesc, server)
}

var authorityServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Challenge", Handler: challengeHandler},
		{MethodName: "Release", Handler: releaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyrelease",
}

func challengeHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(ChallengeRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(AuthorityServer).Challenge(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: challengeMethod}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return server.(AuthorityServer).Challenge(ctx, request.(*ChallengeRequest))
	})
}

func releaseHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(ReleaseRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(AuthorityServer).Release(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: releaseMethod}
	return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
		return server.(AuthorityServer).Release(ctx, request.(*ReleaseRequest))
	})
}

// authorityClient is the client stub.
type authorityClient struct {
	conn grpc.ClientConnInterface
}

func (c authorityClient) Challenge(ctx context.Context, request *ChallengeRequest) (*ChallengeResponse, error) {
	response := new(ChallengeResponse)
	if err := c.conn.Invoke(ctx, challengeMethod, request, response, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return response, nil
}

func (c authorityClient) Release(ctx context.Context, request *ReleaseRequest) (*ReleaseResponse, error) {
	response := new(ReleaseResponse)
	if err := c.conn.Invoke(ctx, releaseMethod, request, response, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return response, nil
}

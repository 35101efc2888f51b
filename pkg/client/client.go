// Package client dials wallet.v1.WalletService.
package client

import (
	"context"
	"crypto/tls"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wizardbeardstudio/open-wallet-go/pkg/walletv1"
)

type Config struct {
	Addr string
	// Token is sent as a bearer token on every call when set.
	Token string
	// TLS enables transport security; nil dials in plaintext.
	TLS *tls.Config
}

type Client struct {
	walletv1.WalletServiceClient
	conn *grpc.ClientConn
}

func New(cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("wallet client: address is required")
	}
	creds := insecure.NewCredentials()
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	}
	dial := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.Token != "" {
		dial = append(dial, grpc.WithPerRPCCredentials(bearer{token: cfg.Token, secure: cfg.TLS != nil}))
	}
	conn, err := grpc.NewClient(cfg.Addr, append(dial, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{WalletServiceClient: walletv1.NewWalletServiceClient(conn), conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

type bearer struct {
	token  string
	secure bool
}

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearer) RequireTransportSecurity() bool { return b.secure }

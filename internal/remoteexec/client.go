package remoteexec

import (
	"context"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/cenkalti/backoff/v4"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/project"
)

// client bundles the three REv2 services consumed by the Remote Executor,
// per spec.md §4.9's "required operations" list. Grounded on the
// teacher's RunClient grpc.Dial/insecure.NewCredentials idiom in
// daemon.go, generalized from a local Unix-domain dial to a remote TCP
// endpoint.
type client struct {
	conn *grpc.ClientConn
	cas  repb.ContentAddressableStorageClient
	ac   repb.ActionCacheClient
	exec repb.ExecutionClient
}

// loggingUnaryClientInterceptor logs each REv2 RPC's method and latency at
// debug level, and its error (if any) at warn level, through the caller's
// hclog.Logger rather than go-grpc-middleware's own logging adapters (none
// of which take an hclog.Logger directly).
func loggingUnaryClientInterceptor(log hclog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			log.Warn("rev2 rpc failed", "method", method, "elapsed", time.Since(start), "error", err)
		} else {
			log.Debug("rev2 rpc", "method", method, "elapsed", time.Since(start))
		}
		return err
	}
}

// dial connects to the remote execution endpoint, retrying transient
// failures with a bounded exponential backoff since a remote build
// farm endpoint flaking for a few seconds shouldn't fail the whole run.
func dial(endpoint string, useTLS bool, log hclog.Logger) (*client, error) {
	var creds credentials.TransportCredentials
	if useTLS {
		creds = credentials.NewTLS(nil)
	} else {
		creds = insecure.NewCredentials()
	}

	chain := grpc_middleware.ChainUnaryClient(loggingUnaryClientInterceptor(log))

	var conn *grpc.ClientConn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 10 * time.Second

	dialErr := backoff.Retry(func() error {
		dialCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		c, err := grpc.DialContext(dialCtx, endpoint, grpc.WithTransportCredentials(creds),
			grpc.WithUnaryInterceptor(chain), grpc.WithBlock())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy)
	if dialErr != nil {
		return nil, dialErr
	}

	return &client{
		conn: conn,
		cas:  repb.NewContentAddressableStorageClient(conn),
		ac:   repb.NewActionCacheClient(conn),
		exec: repb.NewExecutionClient(conn),
	}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

// endpointFor resolves the (endpoint, useTLS) pair for a target per
// spec.md §4.9's "Configuration precedence": target.remoteExecution ▶
// named endpoint referenced by target ▶ workspace defaults.
func endpointFor(re *config.RemoteExecutionConfig, override *project.RemoteExecutionOverride) (endpoint string, useTLS bool, enabled bool) {
	endpoint, useTLS, enabled = re.Endpoint, re.UseTLS, re.Enabled
	if override == nil {
		return
	}
	if override.NamedEndpoint != "" {
		if named, ok := re.NamedEndpoints[override.NamedEndpoint]; ok {
			endpoint, useTLS = named.Endpoint, named.UseTLS
		}
	}
	if override.Endpoint != "" {
		endpoint = override.Endpoint
	}
	if override.Enabled != nil {
		enabled = *override.Enabled
	}
	return
}

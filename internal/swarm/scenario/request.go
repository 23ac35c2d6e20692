package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/client"
	"github.com/wesleyorama2/swarm/internal/swarm/config"
	"github.com/wesleyorama2/swarm/pkg/jsonpath"
)

// ErrNoClient is returned by request tasks run by a user without a session.
var ErrNoClient = errors.New("scenario: user has no HTTP client")

// request returns a task body that sends rc.
//
// HTTP failures are reported through the session hooks and do not fail the
// task. When the user is being stopped the context error is returned.
func (b *builder) request(rc *config.RequestConfig) swarm.TaskFunc {
	r := b.s.Renderer
	return func(ctx context.Context, u *swarm.VirtualUser) error {
		if u.Client == nil {
			return ErrNoClient
		}

		req := &client.Request{
			Method: rc.Method,
			Path:   r.Render(rc.Path, u),
			Name:   rc.Name,
		}
		if rc.Body != "" {
			req.Body = []byte(r.Render(rc.Body, u))
		}
		if len(rc.Headers) > 0 {
			req.Headers = make(map[string]string, len(rc.Headers))
			for k, v := range rc.Headers {
				req.Headers[k] = r.Render(v, u)
			}
		}

		resp, err := u.Client.Do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Logger().Debug("request failed",
				zap.String("name", req.Name),
				zap.String("path", req.Path),
				zap.Error(err))
			return nil
		}

		extract(u, rc.Extract, resp)
		return nil
	}
}

func interrupt(reschedule bool) swarm.TaskFunc {
	return func(context.Context, *swarm.VirtualUser) error {
		return swarm.Interrupt(reschedule)
	}
}

// extract stores the configured response values in the user's data.
// Values that cannot be found are logged and skipped.
func extract(u *swarm.VirtualUser, extracts []config.ExtractConfig, resp *client.Response) {
	for _, ex := range extracts {
		var (
			value string
			err   error
		)
		switch ex.Source {
		case "header":
			value = resp.Header.Get(ex.Path)
			if value == "" {
				err = fmt.Errorf("header %s not present", ex.Path)
			}
		case "status":
			value = strconv.Itoa(resp.StatusCode)
		default:
			value, err = jsonpath.Extract(resp.Body, ex.Path)
		}
		if err != nil {
			u.Logger().Debug("extraction failed",
				zap.String("variable", ex.Name),
				zap.String("source", ex.Source),
				zap.Error(err))
			continue
		}
		u.SetData(ex.Name, value)
	}
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
)

// shoutrrrFallback is the URL set used for channels without their own entry.
const shoutrrrFallback = "*"

// Shoutrrr fans a message out to the service URLs configured for its channel.
type Shoutrrr struct {
	senders map[string]*router.ServiceRouter
}

func NewShoutrrr(cfg config.ShoutrrrConfig, timeout time.Duration) (*Shoutrrr, error) {
	s := &Shoutrrr{senders: make(map[string]*router.ServiceRouter, len(cfg.URLs))}
	channels := make([]string, 0, len(cfg.URLs))
	for ch := range cfg.URLs {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		urls := cfg.URLs[ch]
		if len(urls) == 0 {
			return nil, fmt.Errorf("channel %q: at least one URL is required", ch)
		}
		sender, err := shoutrrr.CreateSender(urls...)
		if err != nil {
			// The raw error can echo tokens embedded in the URL.
			return nil, fmt.Errorf("channel %q: invalid service URL", ch)
		}
		if timeout > 0 {
			sender.Timeout = timeout
		}
		sender.SetLogger(log.New(io.Discard, "", 0))
		s.senders[ch] = sender
	}
	return s, nil
}

func (s *Shoutrrr) Name() string { return "shoutrrr" }

func (s *Shoutrrr) Send(ctx context.Context, env dispatch.Envelope) error {
	sender, ok := s.senders[env.Target.Channel]
	if !ok {
		sender, ok = s.senders[shoutrrrFallback]
	}
	if !ok {
		return dispatch.NewDeliveryError(s.Name(), dispatch.ReasonUnknownTarget,
			fmt.Errorf("no service URL for channel %q", env.Target.Channel))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := shoutrrrParams(env)
	var failed []error
	for _, err := range sender.Send(env.Body, &params) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return dispatch.NewDeliveryError(s.Name(), dispatch.ReasonUnavailable, errors.Join(failed...))
	}
	return nil
}

// shoutrrrParams copies env.Data into service params. The envelope title
// always wins over a "title" data key.
func shoutrrrParams(env dispatch.Envelope) stypes.Params {
	params := make(stypes.Params, len(env.Data)+1)
	for k, v := range env.Data {
		params[k] = v
	}
	params.SetTitle(env.Title)
	return params
}

func (s *Shoutrrr) Close(context.Context) error { return nil }

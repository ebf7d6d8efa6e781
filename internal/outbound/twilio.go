package outbound

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// MediaStreamPath is where the telephony provider opens the media websocket.
const MediaStreamPath = "/media-stream"

// CallCreator is the slice of the Twilio REST API used to place calls.
type CallCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	PublicHost string
}

// TwilioDialer places outbound calls whose audio is streamed to this service.
type TwilioDialer struct {
	calls     CallCreator
	from      string
	streamURL string
}

func NewTwilioDialer(cfg TwilioConfig) *TwilioDialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioDialer(client.Api, cfg.FromNumber, StreamURL(cfg.PublicHost))
}

func newTwilioDialer(calls CallCreator, from, streamURL string) *TwilioDialer {
	return &TwilioDialer{calls: calls, from: from, streamURL: streamURL}
}

func (d *TwilioDialer) StreamURL() string { return d.streamURL }

// Call dials to and connects the answered call to the media stream. params
// reach the stream's start event as custom parameters.
func (d *TwilioDialer) Call(ctx context.Context, to string, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := ConnectTwiML(d.streamURL, params)
	if err != nil {
		return "", err
	}

	req := &api.CreateCallParams{}
	req.SetTo(to)
	req.SetFrom(d.from)
	req.SetTwiml(doc)

	res, err := d.calls.CreateCall(req)
	if err != nil {
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) {
			return "", fmt.Errorf("create call: twilio status %d code %d: %s: %w", restErr.Status, restErr.Code, restErr.Message, err)
		}
		return "", fmt.Errorf("create call: %w", err)
	}
	if res == nil || res.Sid == nil {
		return "", nil
	}
	return *res.Sid, nil
}

// StreamURL builds the public websocket URL for a bare host, an http(s)
// URL, or a ws(s) URL.
func StreamURL(publicHost string) string {
	host := strings.TrimRight(strings.TrimSpace(publicHost), "/")
	if host == "" {
		return ""
	}
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		u.Path = strings.TrimRight(u.Path, "/") + MediaStreamPath
		return u.String()
	}
	return "wss://" + host + MediaStreamPath
}

// ConnectTwiML renders <Response><Connect><Stream> with one <Parameter> per
// entry in params, sorted by name.
func ConnectTwiML(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("stream url is required")
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	inner := make([]twiml.Element, 0, len(names))
	for _, name := range names {
		inner = append(inner, &twiml.VoiceParameter{Name: name, Value: params[name]})
	}
	stream := &twiml.VoiceStream{Url: streamURL, InnerElements: inner}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}

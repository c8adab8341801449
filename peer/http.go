package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/metrics"
)

var log = logging.Logger("peer")

const maxRequestSize = 1 << 20

// Handler answers requests from peers.
type Handler interface {
	HandlePeerRequest(ctx context.Context, req *Request) *Response
}

// Transport delivers a request to the peer reachable at contact and waits for
// its answer.
type Transport interface {
	Send(ctx context.Context, contact string, req *Request) (*Response, error)
}

// HTTPTransport posts requests to <contact>/post.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

var _ Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}, timeout: timeout}
}

func (t *HTTPTransport) Send(ctx context.Context, contact string, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(contact, "/") + "/post"
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("building request to %s: %w", contact, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := t.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Errorf("%s to %s: %w", req.Command, contact, ErrTimeout)
		}
		return nil, xerrors.Errorf("%s to %s (%s): %w", req.Command, contact, err, ErrTimeout)
	}
	defer hresp.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(io.LimitReader(hresp.Body, maxRequestSize))
	if err != nil {
		return nil, xerrors.Errorf("%s to %s: reading response: %w", req.Command, contact, ErrTimeout)
	}
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, xerrors.Errorf("%s to %s: bad response (status %d): %w", req.Command, contact, hresp.StatusCode, err)
	}
	if resp.Tag != req.Tag {
		return nil, xerrors.Errorf("%s to %s: response tag %q does not match request %q", req.Command, contact, resp.Tag, req.Tag)
	}
	return &resp, nil
}

// NewHTTPHandler serves peer requests on POST /post.
func NewHTTPHandler(h Handler) http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize))
		if err := dec.Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(&Response{Error: "malformed request: " + err.Error()})
			return
		}

		ctx, _ := tag.New(r.Context(), tag.Upsert(metrics.Command, string(req.Command)))
		stop := metrics.Timer(ctx, metrics.PeerRequestDuration)
		resp := h.HandlePeerRequest(ctx, &req)
		stop()

		outcome := "ok"
		if resp.Error != "" {
			outcome = "refused"
			log.Infow("refused peer request", "command", req.Command, "tag", req.Tag, "error", resp.Error)
		}
		metrics.Count(ctx, metrics.PeerRequests, metrics.Outcome, outcome)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Warnw("writing peer response", "error", err)
		}
	}).Methods(http.MethodPost)
	return m
}

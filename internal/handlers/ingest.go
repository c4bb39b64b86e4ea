package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
)

const signatureHeader = "X-Signature"

// validSignature checks a "sha256=<hex>" HMAC of body.
func validSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// IngestHandler accepts signed third-party events. The sender always gets
// 202; rejected and failed events are only logged.
func (s *Server) IngestHandler(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusAccepted)

	channelID, err := pathID(r, "channelID")
	if err != nil {
		log.Warn("Ingest: %v", err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Ingest for channel %d: reading body: %v", channelID, err)
		return
	}
	if !validSignature(s.cfg.IngestSecret, r.Header.Get(signatureHeader), body) {
		log.Warn("Ingest for channel %d: invalid signature from %s", channelID, clientIP(r))
		return
	}

	var sub widget.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		log.Warn("Ingest for channel %d: malformed body: %v", channelID, err)
		return
	}
	sub.ChannelID = channelID
	sub.ActorID = nil

	// The sender may hang up once it has its answer; the event still runs.
	ctx := context.WithoutCancel(r.Context())
	receipt, err := s.Proc.Submit(ctx, sub)
	if err != nil {
		log.Warn("Ingest %s/%s for channel %d failed: %v", sub.WidgetType, sub.EventType, channelID, err)
		return
	}
	log.Debug("Ingested %s/%s as event %s", sub.WidgetType, sub.EventType, receipt.EventID)
}

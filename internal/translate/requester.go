package translate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/signlink/internal/detection"
	"github.com/ayusman/signlink/internal/session"
)

// Translator is the part of the translation service the requester needs.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
	ClearContext(ctx context.Context, sessionID string) (*SessionResponse, error)
}

// Commander sends session commands over the live detection connection.
type Commander interface {
	SendCommand(action detection.Action) bool
}

// RequesterConfig configures a Requester.
type RequesterConfig struct {
	Language string
	Logger   *zap.Logger
}

// Requester turns the accumulated signs of a session into a sentence.
type Requester struct {
	store      *session.Store
	translator Translator
	commander  Commander
	language   string
	log        *zap.Logger
	now        func() time.Time

	// One translation at a time.
	mu sync.Mutex
}

// NewRequester creates a requester writing results to store.
func NewRequester(cfg RequesterConfig, store *session.Store, translator Translator, commander Commander) *Requester {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Requester{
		store:      store,
		translator: translator,
		commander:  commander,
		language:   cfg.Language,
		log:        cfg.Logger.Named("translate"),
		now:        time.Now,
	}
}

// ProcessAccumulatedSigns translates the signs accumulated so far. An empty
// buffer is a no-op and makes no request. On success the sentence and history
// are updated and the buffer is emptied; on failure nothing
// changes and the error is returned.
func (r *Requester) ProcessAccumulatedSigns(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID := r.store.SessionID()
	signs := r.store.AccumulatedSigns()
	if len(signs) == 0 {
		return "", nil
	}

	resp, err := r.translator.Translate(ctx, TranslateRequest{
		SignSequence: signs,
		SessionID:    sessionID,
		Language:     r.language,
	})
	if err != nil {
		r.log.Error("translation failed", zap.Strings("signs", signs), zap.Error(err))
		return "", err
	}

	if err := r.store.CommitTranslation(sessionID, signs, resp.Translation, r.now().UnixMilli()); err != nil {
		if errors.Is(err, session.ErrSessionChanged) {
			r.log.Info("discarding translation for cleared session", zap.String("session_id", sessionID))
		}
		return "", err
	}

	r.log.Info("translated",
		zap.Strings("signs", signs),
		zap.String("translation", resp.Translation),
		zap.Float64("confidence", resp.Confidence),
		zap.Bool("fallback", resp.Fallback))
	return resp.Translation, nil
}

// ClearSession resets the session. The service-side context is cleared on a
// best-effort basis and the detection service is told to clear over the live
// connection, if any. It returns the new session identifier.
func (r *Requester) ClearSession(ctx context.Context) string {
	oldID := r.store.SessionID()

	if _, err := r.translator.ClearContext(ctx, oldID); err != nil {
		r.log.Debug("session clear failed or not needed", zap.String("session_id", oldID), zap.Error(err))
	}
	if r.commander != nil {
		r.commander.SendCommand(detection.ActionClear)
	}

	newID := r.store.Clear()
	r.log.Info("session cleared", zap.String("old_session_id", oldID), zap.String("session_id", newID))
	return newID
}

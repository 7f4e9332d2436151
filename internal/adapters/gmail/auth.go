package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
)

// TokenSource читает OAuth-клиента и сохранённый токен. Обновлённый токен
// записывается обратно в tokenFile. Первичное получение токена выполняется вне бота.
func TokenSource(ctx context.Context, credentialsFile, tokenFile string, log zerolog.Logger) (oauth2.TokenSource, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmailv1.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("разбор OAuth-клиента: %w", err)
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base: oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		path: tokenFile,
		last: tok.AccessToken,
		log:  log,
	}, nil
}

func readToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("токен Gmail %s не найден, получите его заранее: %w", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("разбор токена %s: %w", path, err)
	}
	return &tok, nil
}

type persistingSource struct {
	base oauth2.TokenSource
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if raw, err := json.Marshal(tok); err == nil {
			if err := os.WriteFile(s.path, raw, 0o600); err != nil {
				s.log.Warn().Err(err).Str("path", s.path).Msg("не удалось сохранить обновлённый токен Gmail")
			}
		}
	}
	return tok, nil
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-dispatcher/internal/metrics"
	"github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"
)

type dispatcherStatus struct {
	Enabled    bool   `json:"enabled"`
	IntervalMs int64  `json:"interval_ms"`
	LastError  string `json:"last_error,omitempty"`
}

func (s *Server) status() dispatcherStatus {
	st := dispatcherStatus{
		Enabled:    s.deps.Dispatcher.Enabled(),
		IntervalMs: s.deps.Dispatcher.Interval().Milliseconds(),
	}
	if err := s.deps.Dispatcher.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Server) dispatcherStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) enableDispatcher(w http.ResponseWriter, _ *http.Request) {
	s.deps.Dispatcher.Enable()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) disableDispatcher(w http.ResponseWriter, _ *http.Request) {
	s.deps.Dispatcher.Disable()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Accounts.List(r.Context())
	if err != nil {
		s.logger.Error("list accounts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) recoverAccounts(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Sweeper.SweepOnce(r.Context())
	if err != nil {
		s.logger.Error("manual recovery failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "recovery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"recovered": n})
}

func (s *Server) blockAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	ctx := r.Context()
	account, err := s.deps.Accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account.Status == taskqueue.AccountBlocked {
		writeError(w, http.StatusConflict, "account already blocked")
		return
	}
	blocked, err := s.deps.Accounts.SetStatus(ctx, account.ID, account.Status, taskqueue.AccountBlocked, s.deps.Clock.Now())
	if err != nil {
		if errors.Is(err, taskqueue.ErrRaceLost) || errors.Is(err, taskqueue.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "account status changed; retry")
			return
		}
		s.logger.Error("block account failed", zap.String("account_id", account.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to block account")
		return
	}
	metrics.ObserveAccountTransition(string(taskqueue.AccountBlocked))
	s.logger.Info("account blocked by operator",
		zap.String("account_id", account.ID),
		zap.String("from", string(account.Status)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"account": blocked})
}

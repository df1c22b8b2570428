package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
)

type topUpRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

type topUpResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// handleTopUpProfile начисляет кредиты профилю. Первый top-up создаёт профиль;
// гонка двух первых пополнений разрешается повторным Credit после проигранного
// Create.
func (s *Service) handleTopUpProfile(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		s.writeError(w, domain.ErrProfileIDRequired)
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, domain.ErrTopUpAmountInvalid)
		return
	}

	balance, err := s.profiles.Credit(userID, req.Amount)
	if errors.Is(err, domain.ErrProfileNotFound) {
		now := time.Now().UTC()
		createErr := s.profiles.Create(domain.Profile{
			ID:           userID,
			CreditsMinor: req.Amount,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		switch {
		case createErr == nil:
			balance, err = req.Amount, nil
		case errors.Is(createErr, domain.ErrProfileAlreadyExists):
			// Параллельный top-up создал профиль первым.
			balance, err = s.profiles.Credit(userID, req.Amount)
		default:
			s.writeError(w, createErr)
			return
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.WithFields(log.Fields{
		"profile_id":    userID,
		"amount_minor":  req.Amount,
		"balance_minor": balance,
	}).Info("profile topped up")
	writeJSON(w, http.StatusOK, topUpResponse{Success: true, UserID: userID, Balance: balance})
}

package fakeapi

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/storefront/internal/models"
)

var errEmailTaken = errors.New("email already taken")

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email"`
	Phone                string `json:"phone" validate:"omitempty,max=32"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type authResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	User         models.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := bindAndValidate[registerRequest](w, r)
	if !ok {
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		renderError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	user, err := s.createAccountLocked(req.Name, req.Email, req.Phone, hash)
	s.mu.Unlock()

	switch {
	case errors.Is(err, errEmailTaken):
		jsonWithStatus(w, envelope{
			Success: false,
			Message: "The given data was invalid.",
			Errors:  map[string][]string{"email": {"The email has already been taken."}},
		}, http.StatusUnprocessableEntity)
		return
	case err != nil:
		renderError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.renderAuth(w, user, "User registered")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := bindAndValidate[loginRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	var acc account
	id, found := s.emails[strings.ToLower(req.Email)]
	if found {
		acc = *s.accounts[id]
	}
	s.mu.Unlock()

	if !found || s.hasher.Compare(acc.passwordHash, req.Password) != nil {
		renderError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	s.renderAuth(w, acc.user, "Logged in")
}

func (s *Server) renderAuth(w http.ResponseWriter, user models.User, message string) {
	pair, err := s.issuePair(user.ID)
	if err != nil {
		renderError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	renderData(w, authResponse{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		TokenType:    "Bearer",
		User:         user,
	}, message)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := bindAndValidate[refreshRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delay, fail := s.refreshDelay, s.failRefresh
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if fail {
		renderError(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, found := s.refreshTokens[req.RefreshToken]
	if !found {
		renderError(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	access, jti, err := s.issuer.issueAccess(userID)
	if err != nil {
		renderError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.access[jti] = true

	pair := models.TokenPair{Access: access}
	if s.rotate {
		refresh, err := newRefreshToken()
		if err != nil {
			renderError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		delete(s.refreshTokens, req.RefreshToken)
		s.refreshTokens[refresh] = userID
		pair.Refresh = refresh
	}

	renderData(w, pair, "Token refreshed")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	renderData(w, map[string]models.User{"user": user}, "")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	jti, _ := r.Context().Value(jtiKey).(string)

	s.mu.Lock()
	delete(s.access, jti)
	for token, userID := range s.refreshTokens {
		if userID == user.ID {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()

	renderData(w, nil, "Logged out")
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	s.mu.Lock()
	ids := s.favorites[user.ID]
	favorites := make([]models.Favorite, 0, len(ids))
	for _, id := range ids {
		item := s.itemLocked(id)
		favorites = append(favorites, models.Favorite{ItemID: id, Item: &item})
	}
	s.mu.Unlock()

	renderData(w, favorites, "")
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	itemID, ok := pathItemID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.favorites[user.ID], itemID) {
		renderError(w, "Item is already in favorites", http.StatusBadRequest)
		return
	}
	s.favorites[user.ID] = append(s.favorites[user.ID], itemID)

	item := s.itemLocked(itemID)
	renderData(w, models.Favorite{ItemID: itemID, Item: &item}, "Item added to favorites")
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	itemID, ok := pathItemID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.favorites[user.ID]
	idx := slices.Index(ids, itemID)
	if idx < 0 {
		renderError(w, "Item is not in favorites", http.StatusNotFound)
		return
	}
	s.favorites[user.ID] = slices.Delete(ids, idx, idx+1)

	renderData(w, nil, "Item removed from favorites")
}

func pathItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil || id <= 0 {
		renderError(w, "Invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// itemLocked returns registered item or a placeholder for unknown id
func (s *Server) itemLocked(id int64) models.Item {
	if item, ok := s.items[id]; ok {
		return item
	}
	return models.Item{ID: id, Title: "Item " + strconv.FormatInt(id, 10), Price: decimal.Zero}
}

func (s *Server) createAccountLocked(name string, email string, phone string, hash string) (models.User, error) {
	key := strings.ToLower(email)
	if _, taken := s.emails[key]; taken {
		return models.User{}, errEmailTaken
	}

	s.nextUserID++
	user := models.User{ID: s.nextUserID, Name: name, Email: email, Phone: phone, Role: "customer"}
	s.accounts[user.ID] = &account{user: user, passwordHash: hash}
	s.emails[key] = user.ID

	return user, nil
}

func (s *Server) issuePair(userID int64) (models.TokenPair, error) {
	access, jti, err := s.issuer.issueAccess(userID)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return models.TokenPair{}, err
	}

	s.mu.Lock()
	s.access[jti] = true
	s.refreshTokens[refresh] = userID
	s.mu.Unlock()

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

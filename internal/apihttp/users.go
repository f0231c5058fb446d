package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-api/internal/cache"
	"github.com/keithlinneman/linnemanlabs-api/internal/userstore"
)

// UserStore is the record source behind the users endpoints.
type UserStore interface {
	Get(id int) (userstore.User, bool)
	Create(name, email string) userstore.User
}

// UserCache is satisfied by *cache.Cache[userstore.User].
type UserCache interface {
	Get(key string) (userstore.User, bool)
	Set(key string, u userstore.User)
	Delete(key string) bool
	Clear()
	Stats() cache.Stats
	RecordResponseTime(ms float64)
}

var (
	errUserNotFound = errors.New("user not found")
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func userKey(id int) string { return "user:" + strconv.Itoa(id) }

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// handleGetUser serves one user, from cache when possible. Concurrent misses
// for the same id share a single store lookup.
func (api *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		api.fail(w, r, http.StatusBadRequest, MsgInvalidUserID)
		return
	}
	key := userKey(id)

	defer func() {
		api.cache.RecordResponseTime(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if u, ok := api.cache.Get(key); ok {
		noteCached(ctx, true)
		api.ok(w, r, http.StatusOK, MsgRetrieved, u)
		return
	}
	noteCached(ctx, false)

	v, err, shared := api.fills.Do(key, func() (any, error) {
		u, ok := api.users.Get(id)
		if !ok {
			return nil, errUserNotFound
		}
		api.cache.Set(key, u)
		return u, nil
	})
	if errors.Is(err, errUserNotFound) {
		api.fail(w, r, http.StatusNotFound, MsgUserNotFound)
		return
	}
	if err != nil {
		api.logger.Error(ctx, err, "user lookup failed", "user_id", id)
		api.fail(w, r, http.StatusInternalServerError, MsgInternal)
		return
	}
	if shared {
		api.logger.Debug(ctx, "user lookup shared with concurrent request", "user_id", id)
	}
	api.ok(w, r, http.StatusOK, MsgRetrieved, v.(userstore.User))
}

func (api *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.fail(w, r, http.StatusRequestEntityTooLarge, MsgTooLarge)
			return
		}
		api.fail(w, r, http.StatusBadRequest, MsgBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	switch {
	case name == "":
		api.fail(w, r, http.StatusBadRequest, "name: "+MsgRequiredField)
		return
	case email == "":
		api.fail(w, r, http.StatusBadRequest, "email: "+MsgRequiredField)
		return
	case !emailPattern.MatchString(email):
		api.fail(w, r, http.StatusBadRequest, MsgInvalidEmail)
		return
	}

	u := api.users.Create(name, email)
	// nothing should be cached under a fresh id, drop it anyway
	api.cache.Delete(userKey(u.ID))

	api.logger.Info(ctx, "user created", "user_id", u.ID)
	api.ok(w, r, http.StatusCreated, MsgCreated, u)
}

func (api *API) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	api.ok(w, r, http.StatusOK, MsgRetrieved, api.cache.Stats())
}

func (api *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	api.cache.Clear()
	api.logger.Info(r.Context(), "user cache cleared")
	api.ok(w, r, http.StatusOK, MsgDeleted, nil)
}

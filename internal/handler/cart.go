package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

// CartView is the JSON form of a cart snapshot.
type CartView struct {
	State        cart.State  `json:"state"`
	Items        []cart.Item `json:"items"`
	Count        int         `json:"count"`
	Total        int64       `json:"total"`
	TotalDisplay string      `json:"total_display"`
	Error        *ErrorBody  `json:"error,omitempty"`
}

func cartView(s cart.Snapshot) CartView {
	v := CartView{
		State:        s.State,
		Items:        s.Items,
		Count:        s.Count,
		Total:        s.Total,
		TotalDisplay: cart.FormatMinor(s.Total),
	}
	if v.Items == nil {
		v.Items = []cart.Item{}
	}
	if s.Err != nil {
		body := errorBody(s.Err)
		v.Error = &body
	}
	return v
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Authenticated bool     `json:"authenticated"`
	Cart          CartView `json:"cart"`
}

// GetSession reports whether a user is signed in.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, sessionResponse{
		Authenticated: h.session.Authenticated(),
		Cart:          cartView(h.session.Snapshot()),
	})
}

// SignIn starts a session with the marketplace token and loads the cart.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.Wrap(err, "decode body")))
		return
	}
	if req.Token == "" {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.New("token is required")))
		return
	}
	if err := h.session.SignIn(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionResponse{
		Authenticated: h.session.Authenticated(),
		Cart:          cartView(h.session.Snapshot()),
	})
}

// SignOut drops session state.
func (h *Handler) SignOut(w http.ResponseWriter, _ *http.Request) {
	h.session.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// GetCart returns the cart, synced from the backend when ?sync=true.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("sync") == "true" {
		if err := h.session.SyncCart(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, cartView(h.session.Snapshot()))
}

// AddToCart adds the item from the body.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var item cart.Item
	if err := decodeJSON(w, r, &item); err != nil {
		writeJSON(w, r, http.StatusBadRequest, badRequest(errors.Wrap(err, "decode body")))
		return
	}
	h.respondCart(w, r, h.session.AddToCart(r.Context(), item))
}

// RemoveFromCart removes the item named in the path.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, h.session.RemoveFromCart(r.Context(), chi.URLParam(r, "itemID")))
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, h.session.ClearCart(r.Context()))
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cartView(h.session.Snapshot()))
}

// CartEvents streams cart snapshots as server-sent events until the client
// goes away. Slow readers only see the latest snapshot.
func (h *Handler) CartEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	updates, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		zctx.From(r.Context()).Debug("Event stream unsupported", zap.Error(err))
		return
	}

	send := func(s cart.Snapshot) bool {
		data, err := json.Marshal(cartView(s))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.streams.Done():
			return
		case s, ok := <-updates:
			if !ok || !send(s) {
				return
			}
		}
	}
}

// GetOwned lists items bought during this session.
func (h *Handler) GetOwned(w http.ResponseWriter, r *http.Request) {
	owned := h.session.Owned()
	out := make([]ownedView, len(owned))
	for i, k := range owned {
		out[i] = ownedView{ItemID: k.ItemID, ItemType: k.ItemType}
	}
	writeJSON(w, r, http.StatusOK, out)
}

type ownedView struct {
	ItemID   string        `json:"item_id"`
	ItemType cart.ItemType `json:"item_type"`
}

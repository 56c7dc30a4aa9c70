package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers is everything the router serves. Journal and Metrics may be nil.
type Handlers struct {
	Options *OptionController
	Trades  *TradeController
	Tokens  *TokenController
	Market  *MarketController
	Journal *JournalController
	Metrics prometheus.Gatherer
}

type apiRoute struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

func (h *Handlers) routes() []apiRoute {
	routes := []apiRoute{
		// ---------- options ----------
		{http.MethodPost, "/options", h.Options.HandleWriteOption},
		{http.MethodGet, "/options", h.Options.HandleListOptions},
		{http.MethodGet, "/options/:id", h.Options.HandleGetOption},
		{http.MethodGet, "/options/:id/owner", h.Options.HandleGetOptionOwner},
		{http.MethodPost, "/options/:id/exercise", h.Options.HandleExerciseOption},
		{http.MethodPost, "/options/:id/collect", h.Options.HandleCollectExpired},

		// ---------- trades ----------
		{http.MethodPost, "/trades", h.Trades.HandleOpenTrade},
		{http.MethodGet, "/trades", h.Trades.HandleListTrades},
		{http.MethodGet, "/trades/:id", h.Trades.HandleGetTrade},
		{http.MethodPost, "/trades/:id/execute", h.Trades.HandleExecuteTrade},
		{http.MethodDelete, "/trades/:id", h.Trades.HandleCancelTrade},

		// ---------- market ----------
		{http.MethodGet, "/events", h.Market.HandleGetEvents},
		{http.MethodGet, "/market/config", h.Market.HandleGetConfig},
		{http.MethodGet, "/market/fees", h.Market.HandleGetFees},
		{http.MethodPost, "/market/fees/withdraw", h.Market.HandleWithdrawFees},
		{http.MethodGet, "/market/custody/:token", h.Market.HandleGetCustody},

		// ---------- tokens ----------
		{http.MethodGet, "/tokens", h.Tokens.HandleListTokens},
		{http.MethodGet, "/tokens/:token/balance/:account", h.Tokens.HandleGetBalance},
		{http.MethodGet, "/tokens/:token/allowance/:owner", h.Tokens.HandleGetAllowance},
		{http.MethodPost, "/tokens/:token/approve", h.Tokens.HandleApprove},
		{http.MethodPost, "/tokens/:token/transfer", h.Tokens.HandleTransfer},
		{http.MethodPost, "/tokens/:token/mint", h.Tokens.HandleMint},
	}

	if h.Journal != nil {
		routes = append(routes,
			apiRoute{http.MethodGet, "/journal", h.Journal.HandleListJournals},
			apiRoute{http.MethodGet, "/journal/:date", h.Journal.HandleGetJournal},
		)
	}
	return routes
}

// NewRouter builds the gin engine serving the API under /api/v1
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	for _, route := range h.routes() {
		api.Handle(route.Method, route.Path, route.Handler)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{})))
	}
	return r
}

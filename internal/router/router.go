package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/dinein/internal/config"
	"github.com/kiwari-pos/dinein/internal/handler"
	mw "github.com/kiwari-pos/dinein/internal/middleware"
	"github.com/kiwari-pos/dinein/internal/service"
	"github.com/kiwari-pos/dinein/internal/ws"
)

// Services holds the engine services the HTTP surface is built on.
type Services struct {
	Tables   *service.TableService
	Orders   *service.OrderService
	Kitchen  *service.KitchenService
	Groups   *service.GroupService
	Payments *service.PaymentService
	Billing  *service.BillingService
}

// New creates a Chi router with all application routes wired up.
// QR routes are public (the session ID is the credential); staff routes
// require a token scoped to the outlet.
func New(cfg *config.Config, svc Services, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"https://order.nasibakarkiwari.com",
			"https://pos.nasibakarkiwari.com",
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Kitchen display feed (handles auth internally via query param)
	r.Get("/ws/outlets/{oid}/kitchen", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Provider callbacks are authenticated by signature
	webhookHandler := handler.NewWebhookHandler(svc.Payments, cfg.WebhookSecret)
	r.Route("/webhooks", webhookHandler.RegisterRoutes)

	qrHandler := handler.NewQRHandler(svc.Tables, svc.Orders)

	r.Route("/outlets/{oid}", func(r chi.Router) {
		// Customer self-ordering
		r.Route("/qr", qrHandler.RegisterRoutes)

		// Staff
		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate(cfg.JWTSecret))
			r.Use(mw.RequireOutlet)

			billingHandler := handler.NewBillingHandler(svc.Billing)

			orderHandler := handler.NewOrderHandler(svc.Orders, svc.Kitchen)
			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)
				r.Get("/{id}/totals", billingHandler.OrderTotals)
			})

			kitchenHandler := handler.NewKitchenHandler(svc.Kitchen)
			r.Route("/kitchen", kitchenHandler.RegisterRoutes)

			groupHandler := handler.NewGroupHandler(svc.Groups)
			r.Route("/groups", func(r chi.Router) {
				groupHandler.RegisterRoutes(r)
				r.Get("/{gid}/totals", billingHandler.GroupTotals)
			})

			paymentHandler := handler.NewPaymentHandler(svc.Payments)
			r.Route("/payments", paymentHandler.RegisterRoutes)

			r.Route("/tables", qrHandler.RegisterStaffRoutes)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/auth"
	"github.com/abjerry97/p2pvps_server/internal/monitoring"
	"github.com/abjerry97/p2pvps_server/internal/refund"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type LoginService interface {
	Login(ctx context.Context, username, password string) (*api.AuthResponse, error)
}

type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*api.Device, error)
	LoadAccount(ctx context.Context, deviceID string) (*api.RentalAccount, error)
	AppendPayment(ctx context.Context, deviceID string, pmt api.PaymentRecord) error
}

type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, job *api.SettlementJob) error
}

type PortAllocator interface {
	Allocate(ctx context.Context) (*api.PortAllocation, error)
}

type ListingManager interface {
	CreateNewMarketListing(ctx context.Context, device *api.Device) (string, error)
	CreateRenewalListing(ctx context.Context, device *api.Device) (string, error)
	RemoveListing(ctx context.Context, device *api.Device) error
}

type Deps struct {
	Login    LoginService
	JWT      *auth.JWTManager
	Devices  DeviceStore
	Settler  refund.Settler
	Queue    SettlementQueue
	Ports    PortAllocator
	Listings ListingManager

	// Period is the rental period a new payment buys.
	Period      time.Duration
	ServiceName string
}

const deviceKey = "device"

type APIServer struct {
	deps   Deps
	router *gin.Engine
	now    func() time.Time
}

func NewAPIServer(deps Deps) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format("2006-01-02 15:04:05"),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))
	if deps.ServiceName != "" {
		router.Use(otelgin.Middleware(deps.ServiceName))
	}
	router.Use(monitoring.GinMetrics())

	if deps.Period <= 0 {
		deps.Period = refund.DefaultPeriod
	}

	server := &APIServer{
		deps:   deps,
		router: router,
		now:    time.Now,
	}

	server.setupRoutes()
	return server
}

func (s *APIServer) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/auth", s.handleAuth)

	devices := v1.Group("/devices/:id", auth.RequireAuth(s.deps.JWT), s.requireDeviceAccess)
	devices.GET("/account", s.handleGetAccount)
	devices.POST("/payments", s.handleRecordPayment)
	devices.POST("/settle", s.handleSettle)
	devices.POST("/register", s.handleRegister)
	devices.POST("/listing", s.handleCreateListing)
	devices.POST("/renewal", s.handleCreateRenewal)
	devices.DELETE("/listing", s.handleRemoveListing)
}

// requireDeviceAccess loads the device named in the path and only lets its
// owner, its renter or an admin through.
func (s *APIServer) requireDeviceAccess(c *gin.Context) {
	device, err := s.deps.Devices.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		c.Abort()
		return
	}

	claims, ok := auth.ClaimsFrom(c)
	if !ok || !claims.CanAccess(device) {
		log.WithFields(log.Fields{"device_id": device.ID, "path": c.FullPath()}).Warn("Device access denied")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	c.Set(deviceKey, device)
	c.Next()
}

func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *APIServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "P2P VPS Rental API",
		"version": "1.0.0",
		"docs":    "/api/v1/health",
	})
}

func (s *APIServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *APIServer) handleAuth(c *gin.Context) {
	var req api.AuthPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		auth.Unauthorized(c)
		return
	}

	resp, err := s.deps.Login.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, tools.ErrUnauthorized) {
		auth.Unauthorized(c)
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleGetAccount(c *gin.Context) {
	account, err := s.deps.Devices.LoadAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *APIServer) handleRecordPayment(c *gin.Context) {
	var payment api.PaymentPayload
	if err := c.ShouldBindJSON(&payment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := api.PaymentRecord{
		Amount:        payment.Amount,
		PayTime:       s.now().UTC().Add(s.deps.Period),
		RefundAddress: payment.RefundAddress,
	}
	if err := s.deps.Devices.AppendPayment(c.Request.Context(), c.Param("id"), record); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *APIServer) handleSettle(c *gin.Context) {
	res, err := s.deps.Settler.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleRegister hands the device fresh login credentials and queues the
// pro-rating of whatever rental it was serving.
func (s *APIServer) handleRegister(c *gin.Context) {
	ctx := c.Request.Context()
	deviceID := c.Param("id")

	alloc, err := s.deps.Ports.Allocate(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	job := &api.SettlementJob{ID: uuid.NewString(), DeviceID: deviceID, QueuedAt: s.now().UTC()}
	if err := s.deps.Queue.EnqueueSettlement(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue settlement"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"login":      alloc.Username,
		"password":   alloc.Password,
		"port":       alloc.Port,
		"settlement": job,
	})
}

func (s *APIServer) handleCreateListing(c *gin.Context) {
	s.withDevice(c, func(device *api.Device) {
		id, err := s.deps.Listings.CreateNewMarketListing(c.Request.Context(), device)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ob_contract": id})
	})
}

func (s *APIServer) handleCreateRenewal(c *gin.Context) {
	s.withDevice(c, func(device *api.Device) {
		id, err := s.deps.Listings.CreateRenewalListing(c.Request.Context(), device)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ob_contract": id})
	})
}

func (s *APIServer) handleRemoveListing(c *gin.Context) {
	s.withDevice(c, func(device *api.Device) {
		if err := s.deps.Listings.RemoveListing(c.Request.Context(), device); err != nil {
			s.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func (s *APIServer) withDevice(c *gin.Context, fn func(*api.Device)) {
	fn(c.MustGet(deviceKey).(*api.Device))
}

func (s *APIServer) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tools.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, tools.ErrLocked), errors.Is(err, tools.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var collabErr *tools.CollaboratorError
		if errors.As(err, &collabErr) {
			log.WithFields(log.Fields{"path": c.FullPath(), "service": collabErr.Service}).Errorf("Collaborator failure: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": collabErr.Error()})
			return
		}
		log.WithField("path", c.FullPath()).Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

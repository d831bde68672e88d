package server

import (
	nethttp "net/http"

	"Corva/internal/conf"
	"Corva/internal/server/middleware"
	"Corva/internal/service"
	pkglog "Corva/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	auth *conf.Auth,
	connection *service.ConnectionService,
	availability *service.AvailabilityService,
	codes *service.CodeService,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
			selector.Server(middleware.Auth(auth.Jwt, logHelper)).
				Match(service.RequiresAuth).
				Build(),
		),
		http.ErrorEncoder(errorEncoder),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	r := srv.Route("/")
	connection.RegisterRoutes(r)
	availability.RegisterRoutes(r)
	codes.RegisterRoutes(r)

	return srv
}

// errorEncoder renders {error, details?} with the Kratos error code as
// HTTP status.
func errorEncoder(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	se := errors.FromError(err)
	body := ErrorBody{Error: se.Message}
	if se.Metadata != nil {
		body.Details = se.Metadata["details"]
	}

	codec, _ := http.CodecForRequest(r, "Accept")
	data, merr := codec.Marshal(&body)
	if merr != nil {
		w.WriteHeader(nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/"+codec.Name())
	w.WriteHeader(int(se.Code))
	_, _ = w.Write(data)
}

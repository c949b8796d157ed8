package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"protocolo/internal/domain"
	"protocolo/internal/engine"
	"protocolo/internal/identity"
	"protocolo/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"numero de protocolo duplicado"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope every failure response uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the protocol API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures surface as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Protocolo API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerIdentity(group)
	registerNumero(group, cfg.Engine)
	registerProtocolos(group, cfg.Engine)
	registerMovimentacoes(group, cfg.Engine)
	registerHistorico(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError translates the engine's error taxonomy into the HTTP envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var perr identity.PermissionError
	if errors.As(err, &perr) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var verr engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "protocolo não encontrado", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join(basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Protocolo API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIdentity(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "identity",
		Method:      http.MethodGet,
		Path:        "/identity",
		Summary:     "Authenticated caller and role",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IdentityResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body IdentityResponse `json:"body"`
		}{Body: IdentityResponse{Email: p.Email, Role: p.Role}}, nil
	})
}

func registerNumero(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "next-protocol-number",
		Method:      http.MethodGet,
		Path:        "/next-protocol-number",
		Summary:     "Advisory next protocol number",
		Description: "The returned number is not reserved. A concurrent creation may win the race, in which case creating with it fails with 409 and the client fetches a fresh one.",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NumeroResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !identity.PodeMutar(p.Role) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "papel sem permissão para registrar protocolos", nil)
		}
		n, err := e.ProximoNumero(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NumeroResponse `json:"body"`
		}{Body: NumeroResponse{Protocolo: n}}, nil
	})
}

func registerProtocolos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-protocol",
		Method:        http.MethodPost,
		Path:          "/protocols",
		Summary:       "Register protocol",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CriarProtocoloRequest `json:"body"`
	}) (*struct {
		Body domain.Protocolo `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		numero := input.Body.NumeroProtocolo
		if numero == "" {
			var err error
			numero, err = e.ProximoNumero(ctx)
			if err != nil {
				return nil, handleError(err)
			}
		}
		created, err := e.CriarProtocolo(ctx, engine.CriacaoOptions{
			Numero:                numero,
			Tipo:                  input.Body.Tipo,
			Prestador:             input.Body.Prestador,
			CNPJ:                  input.Body.CNPJ,
			Assunto:               input.Body.Assunto,
			Observacao:            input.Body.Observacao,
			Canal:                 input.Body.Canal,
			Demandante:            input.Body.Demandante,
			TipoTratativa:         input.Body.TipoTratativa,
			SecretariaEncaminhada: input.Body.SecretariaEncaminhada,
			TratativaImediata:     input.Body.TratativaImediata,
			Email:                 p.Email,
			Role:                  p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocolo `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-protocols",
		Method:      http.MethodGet,
		Path:        "/protocols",
		Summary:     "List protocols",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Data string `query:"data" example:"2026-03-14"`
	}) (*struct {
		Body []domain.Protocolo `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListarProtocolos(ctx, p.Role, input.Data)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Protocolo{}
		}
		return &struct {
			Body []domain.Protocolo `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-protocol",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}",
		Summary:     "Get protocol",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Protocolo `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if identity.LeituraVazia(p.Role) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "protocolo não encontrado", nil)
		}
		got, err := e.Repo.GetProtocolo(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocolo `json:"body"`
		}{Body: got}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-protocol",
		Method:      http.MethodPatch,
		Path:        "/protocols/{id}",
		Summary:     "Transition protocol",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                     `path:"id"`
		Body AtualizarProtocoloRequest `json:"body"`
	}) (*struct {
		Body domain.Protocolo `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := e.AtualizarProtocolo(ctx, engine.AtualizacaoOptions{
			ID:             input.ID,
			Status:         input.Body.Status,
			Tratativa:      input.Body.Tratativa,
			NovaSecretaria: input.Body.NovaSecretaria,
			Email:          p.Email,
			Role:           p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocolo `json:"body"`
		}{Body: updated}, nil
	})
}

func registerMovimentacoes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-protocol-movements",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}/movimentacoes",
		Summary:     "Protocol movement ledger",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []MovimentacaoResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Movimentacoes(ctx, p.Role, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MovimentacaoResponse `json:"body"`
		}{Body: mapMovimentacoes(items)}, nil
	})
}

func registerHistorico(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Filtered, paginated protocol history",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		DataInicio string `query:"dataInicio" example:"2026-03-01"`
		DataFim    string `query:"dataFim" example:"2026-03-14"`
		Tipo       string `query:"tipo"`
		Assunto    string `query:"assunto"`
		Page       int    `query:"page" default:"1"`
		Limit      int    `query:"limit" default:"10"`
	}) (*struct {
		Body engine.HistoricoPage `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.Historico(ctx, engine.HistoricoOptions{
			DataInicio: input.DataInicio,
			DataFim:    input.DataFim,
			Tipo:       input.Tipo,
			Assunto:    input.Assunto,
			Page:       input.Page,
			Limit:      input.Limit,
			Role:       p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.HistoricoPage `json:"body"`
		}{Body: page}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-data",
		Method:      http.MethodGet,
		Path:        "/dashboard-data",
		Summary:     "Registration series and top rankings",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.DashboardData `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.Dashboard(ctx, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DashboardData `json:"body"`
		}{Body: data}, nil
	})
}

package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/service/inbound"
	"github.com/jwalitptl/crm-api/pkg/logger"
)

type mockInboundService struct {
	mock.Mock
}

func (m *mockInboundService) HandleInbound(ctx context.Context, rules config.InboundRules, msg inbound.Message) (*inbound.Result, error) {
	args := m.Called(ctx, rules, msg)
	res, _ := args.Get(0).(*inbound.Result)
	return res, args.Error(1)
}

func newEngine(svc InboundService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h := NewHandler(svc, config.NewRulesStore(config.InboundRules{}), logger.Nop())
	h.RegisterRoutes(&engine.RouterGroup)
	return engine
}

func postInbound(engine *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestTwilioWhatsAppAcknowledgesEveryOutcome(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mockInboundService)
	}{
		{"processed", func(m *mockInboundService) {
			m.On("HandleInbound", mock.Anything, mock.Anything, mock.Anything).Return(&inbound.Result{}, nil)
		}},
		{"missing sender", func(m *mockInboundService) {
			m.On("HandleInbound", mock.Anything, mock.Anything, mock.Anything).Return(nil, inbound.ErrMissingSender)
		}},
		{"storage failure", func(m *mockInboundService) {
			m.On("HandleInbound", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
		}},
		{"service panics", func(m *mockInboundService) {
			m.On("HandleInbound", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
				panic("nil map")
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInboundService{}
			tt.setup(svc)

			w := postInbound(newEngine(svc), url.Values{"From": {"whatsapp:+447700900123"}, "Body": {"hi"}})
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
			assert.Equal(t, emptyTwiML, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestTwilioWhatsAppNormalisesForm(t *testing.T) {
	svc := &mockInboundService{}
	svc.On("HandleInbound", mock.Anything, mock.Anything, mock.MatchedBy(func(msg inbound.Message) bool {
		return msg.From == "whatsapp:+447700900123" && msg.ProviderMessageID == "SM1" &&
			msg.ProfileName == "Ana" && msg.Body == " price? "
	})).Return(&inbound.Result{}, nil)

	w := postInbound(newEngine(svc), url.Values{
		"From":        {" whatsapp:+447700900123 "},
		"Body":        {" price? "},
		"MessageSid":  {"SM1"},
		"ProfileName": {" Ana "},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

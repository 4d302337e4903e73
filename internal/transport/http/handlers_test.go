package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/integrity/enforcer"
	"clinicore/internal/integrity/reconciler"
	"clinicore/internal/platform/lock"
	"clinicore/internal/subscription"
	id "clinicore/pkg/domain"
)

type HandlerSuite struct {
	suite.Suite
	entities *entity.InMemory
	subs     *subscription.InMemoryStore
	server   *httptest.Server
	account  id.AccountID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.entities = entity.NewInMemory()
	s.subs = subscription.NewInMemoryStore()
	events := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(events)

	scanner := enforcer.NewScanner(s.entities)
	rec := reconciler.New(s.entities, publisher, nil, nil)
	service := subscription.NewService(s.subs, s.entities, lock.NewKeyedMutex(), publisher, nil, nil)

	handler := NewHandler(scanner, rec, service, nil)
	s.server = httptest.NewServer(NewRouter(handler))

	s.account = id.AccountID(uuid.New())
	s.Require().NoError(s.entities.PutAccount(context.Background(), entity.Account{
		ID:   s.account,
		Name: "South Clinic",
	}))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) post(path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(s.server.URL+path, "application/json", &buf)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, out any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *HandlerSuite) TestHealth() {
	resp, err := http.Get(s.server.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerSuite) TestIntegrityScanAndReconcile() {
	// One orphaned patient, one healthy one.
	s.Require().NoError(s.entities.PutPatient(context.Background(), entity.Patient{
		ID: id.PatientID(uuid.New()),
	}))
	s.Require().NoError(s.entities.PutPatient(context.Background(), entity.Patient{
		ID:             id.PatientID(uuid.New()),
		OwnerAccountID: s.account,
	}))

	resp := s.post("/admin/integrity/scan", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var scanBody struct {
		Violations []violationResponse `json:"violations"`
	}
	s.decode(resp, &scanBody)
	s.Require().Len(scanBody.Violations, 1)
	s.Equal("MissingOwner", scanBody.Violations[0].Invariant)

	resp = s.post("/admin/integrity/reconcile", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var recBody struct {
		Rounds int `json:"rounds"`
		Total  int `json:"total"`
	}
	s.decode(resp, &recBody)
	s.Equal(1, recBody.Total)

	resp = s.post("/admin/integrity/scan", nil)
	s.decode(resp, &scanBody)
	s.Empty(scanBody.Violations)
}

func (s *HandlerSuite) TestIntegrityScanRejectsUnknownKind() {
	resp := s.post("/admin/integrity/scan", map[string]string{"kind": "Ledger"})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestSubscriptionLifecycle() {
	create := map[string]any{
		"account_id":       s.account.String(),
		"plan":             "basic",
		"price_minor":      1999,
		"duration_seconds": 3600,
	}

	resp := s.post("/admin/subscriptions", create)
	s.Equal(http.StatusCreated, resp.StatusCode)
	var sub subscriptionResponse
	s.decode(resp, &sub)
	s.Equal("active", sub.Status)

	s.Run("duplicate create conflicts", func() {
		resp := s.post("/admin/subscriptions", create)
		defer resp.Body.Close()
		s.Equal(http.StatusConflict, resp.StatusCode)
	})

	s.Run("renew updates plan and history", func() {
		resp := s.post(fmt.Sprintf("/admin/subscriptions/%s/renew", sub.ID), map[string]any{
			"plan":           "premium",
			"price_minor":    4999,
			"extend_seconds": 3600,
		})
		s.Equal(http.StatusOK, resp.StatusCode)
		var renewed subscriptionResponse
		s.decode(resp, &renewed)
		s.Equal("premium", renewed.Plan)

		historyResp, err := http.Get(s.server.URL + fmt.Sprintf("/admin/subscriptions/%s/history", sub.ID))
		s.Require().NoError(err)
		var historyBody struct {
			History []historyEntryResponse `json:"history"`
		}
		s.decode(historyResp, &historyBody)
		s.Require().Len(historyBody.History, 2)
		s.Equal("renewed", historyBody.History[1].Kind)
		s.Require().NotNil(historyBody.History[1].PrevPlan)
		s.Equal("basic", *historyBody.History[1].PrevPlan)
	})

	s.Run("cancel succeeds", func() {
		resp := s.post(fmt.Sprintf("/admin/subscriptions/%s/cancel", sub.ID), nil)
		defer resp.Body.Close()
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("renew after cancel is unprocessable", func() {
		resp := s.post(fmt.Sprintf("/admin/subscriptions/%s/renew", sub.ID), map[string]any{
			"plan":           "premium",
			"price_minor":    4999,
			"extend_seconds": 3600,
		})
		defer resp.Body.Close()
		s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestSubscriptionErrorMapping() {
	s.Run("unknown subscription is 404", func() {
		resp := s.post(fmt.Sprintf("/admin/subscriptions/%s/cancel", uuid.NewString()), nil)
		defer resp.Body.Close()
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})

	s.Run("malformed id is 400", func() {
		resp := s.post("/admin/subscriptions/not-a-uuid/cancel", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("unknown account on create is 404", func() {
		resp := s.post("/admin/subscriptions", map[string]any{
			"account_id":       uuid.NewString(),
			"plan":             "basic",
			"price_minor":      1999,
			"duration_seconds": 3600,
		})
		defer resp.Body.Close()
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestExpireSweepEndpoint() {
	// Inject an already-lapsed subscription directly.
	past := time.Now().Add(-time.Hour)
	s.Require().NoError(s.subs.Insert(context.Background(), subscription.Subscription{
		ID:         id.SubscriptionID(uuid.New()),
		AccountID:  s.account,
		Plan:       "basic",
		PriceMinor: 1999,
		Status:     subscription.StatusActive,
		StartsAt:   past.Add(-time.Hour),
		EndsAt:     past,
		CreatedAt:  past.Add(-time.Hour),
	}))

	resp := s.post("/admin/subscriptions/expire-sweep", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var body map[string]int
	s.decode(resp, &body)
	s.Equal(1, body["expired"])
}

func (s *HandlerSuite) TestReconcileDuplicatesEndpoint() {
	now := time.Now()
	for i, created := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Hour)} {
		s.Require().NoError(s.subs.Insert(context.Background(), subscription.Subscription{
			ID:         id.SubscriptionID(uuid.New()),
			AccountID:  s.account,
			Plan:       fmt.Sprintf("plan-%d", i),
			PriceMinor: 1999,
			Status:     subscription.StatusActive,
			StartsAt:   created,
			EndsAt:     now.Add(24 * time.Hour),
			CreatedAt:  created,
		}))
	}

	resp := s.post(fmt.Sprintf("/admin/accounts/%s/subscriptions/reconcile-duplicates", s.account), nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var body map[string]int
	s.decode(resp, &body)
	s.Equal(1, body["canceled"])
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatbroker.app/broker/internal/http/handler"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/service"
)

var _ = Describe("SessionHandler", func() {
	var (
		admission *mockAdmission
		sessions  *mockSessionManager
		router    *gin.Engine
	)

	BeforeEach(func() {
		admission = &mockAdmission{}
		sessions = &mockSessionManager{}
		h := handler.NewSessionHandler(admission, sessions)

		router = gin.New()
		router.POST("/api/sessions/create", h.Create)
		router.POST("/api/sessions/:session_id/complete", h.Complete)
	})

	post := func(path string, body any) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("Create", func() {
		createBody := func() map[string]any {
			return map[string]any{
				"account_id":       "t-2217567810350-0",
				"shop_id":          "shop-1001",
				"shop_name":        "精品浴缸店",
				"task_type":        "auto_bargain",
				"external_task_id": "ext-1",
				"send_content":     "您好",
				"platform":         "taotian",
			}
		}

		It("returns the session envelope on acceptance", func() {
			admission.admitFn = func(_ context.Context, params service.AdmitParams) (*service.AdmissionResult, error) {
				Expect(params.TaskType).To(Equal(model.TaskTypeAutoBargain))
				return &service.AdmissionResult{
					Outcome:   service.AdmissionAccepted,
					SessionID: "sess_abc",
					TaskType:  params.TaskType,
					Priority:  model.PriorityMedium,
					CreatedAt: time.Now(),
				}, nil
			}

			rec := post("/api/sessions/create", createBody())

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					SessionID string `json:"session_id"`
					TaskType  string `json:"task_type"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Data.SessionID).To(Equal("sess_abc"))
			Expect(resp.Data.TaskType).To(Equal("auto_bargain"))
		})

		It("maps a conflict to 409 with the holding session in data", func() {
			admission.admitFn = func(_ context.Context, _ service.AdmitParams) (*service.AdmissionResult, error) {
				return nil, &service.ConflictError{SessionID: "sess_holder", TaskType: model.TaskTypeAutoBargain}
			}

			rec := post("/api/sessions/create", createBody())

			Expect(rec.Code).To(Equal(http.StatusConflict))
			var resp struct {
				Success   bool   `json:"success"`
				ErrorCode string `json:"error_code"`
				Data      struct {
					ConflictSessionID string `json:"conflict_session_id"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.ErrorCode).To(Equal("UNAVAILABLE"))
			Expect(resp.Data.ConflictSessionID).To(Equal("sess_holder"))
		})

		It("accepts and ignores unknown fields like level", func() {
			admission.admitFn = func(_ context.Context, _ service.AdmitParams) (*service.AdmissionResult, error) {
				return &service.AdmissionResult{
					Outcome:   service.AdmissionAccepted,
					SessionID: "sess_abc",
					TaskType:  model.TaskTypeAutoBargain,
					CreatedAt: time.Now(),
				}, nil
			}

			body := createBody()
			body["level"] = "level3"
			rec := post("/api/sessions/create", body)

			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("rejects a body missing required fields", func() {
			rec := post("/api/sessions/create", map[string]any{"account_id": "a"})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Complete", func() {
		It("passes the outcome through to the session manager", func() {
			var gotID string
			var gotSuccess bool
			sessions.completeFn = func(_ context.Context, sessionID string, success bool, _ *string) error {
				gotID = sessionID
				gotSuccess = success
				return nil
			}

			rec := post("/api/sessions/sess_abc/complete", map[string]any{"success": true})

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gotID).To(Equal("sess_abc"))
			Expect(gotSuccess).To(BeTrue())
		})

		It("maps INVALID_STATE to 409", func() {
			sessions.completeFn = func(_ context.Context, sessionID string, _ bool, _ *string) error {
				return service.NewError(service.CodeInvalidState, "session %s cannot complete", sessionID)
			}

			rec := post("/api/sessions/sess_abc/complete", map[string]any{"success": true})
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("maps SESSION_NOT_FOUND to 404", func() {
			sessions.completeFn = func(_ context.Context, sessionID string, _ bool, _ *string) error {
				return service.NewError(service.CodeSessionNotFound, "session %s not found", sessionID)
			}

			rec := post("/api/sessions/sess_missing/complete", map[string]any{"success": false})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})

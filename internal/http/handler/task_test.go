package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatbroker.app/broker/internal/http/handler"
	"chatbroker.app/broker/internal/service"
)

var _ = Describe("TaskHandler", func() {
	var (
		dispatcher *mockDispatcher
		router     *gin.Engine
	)

	BeforeEach(func() {
		dispatcher = &mockDispatcher{}
		h := handler.NewTaskHandler(dispatcher)

		router = gin.New()
		router.GET("/api/tasks/next_id", h.NextID)
		router.GET("/api/tasks/:task_id/send_info", h.SendInfo)
	})

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("NextID", func() {
		It("reports success=false with a null task id on an empty queue", func() {
			rec := get("/api/tasks/next_id")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					TaskID *string `json:"task_id"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Data.TaskID).To(BeNil())
		})

		It("returns the task id as a decimal string", func() {
			dispatcher.nextTaskIDFn = func(_ context.Context) (*int64, error) {
				taskID := int64(1234567890)
				return &taskID, nil
			}

			rec := get("/api/tasks/next_id")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					TaskID string `json:"task_id"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Data.TaskID).To(Equal("1234567890"))
		})
	})

	Describe("SendInfo", func() {
		It("returns the payload for a known task", func() {
			dispatcher.sendInfoFn = func(_ context.Context, taskID int64) (*service.SendInfo, error) {
				Expect(taskID).To(Equal(int64(42)))
				return &service.SendInfo{
					SendContent: "您好",
					SendURL:     "https://chat.taotian.example/ww/send?shop_id=shop-1001",
					ShopName:    "精品浴缸店",
				}, nil
			}

			rec := get("/api/tasks/42/send_info")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					SendContent string `json:"send_content"`
					SendURL     string `json:"send_url"`
					ShopName    string `json:"shop_name"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Data.SendURL).To(ContainSubstring("shop-1001"))
		})

		It("maps TASK_NOT_FOUND to 404", func() {
			rec := get("/api/tasks/99/send_info")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			var resp struct {
				ErrorCode string `json:"error_code"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.ErrorCode).To(Equal("TASK_NOT_FOUND"))
		})

		It("rejects a non-numeric task id", func() {
			rec := get("/api/tasks/abc/send_info")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})

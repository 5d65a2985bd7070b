package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatbroker.app/broker/common/id"
	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/service"
)

var _ = Describe("TaskDispatcher", func() {
	var (
		ctx        context.Context
		stores     *mockStores
		q          *mockQueue
		dispatcher service.TaskDispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = newMockStores()
		q = &mockQueue{}

		err := id.Init(1)
		Expect(err).NotTo(HaveOccurred())

		sessions := service.NewSessionManager(stores, &mockTxRunner{stores: stores}, nil)
		sendURL := config.SendURLConfig{Templates: map[string]string{
			config.PlatformTaotian: "https://chat.taotian.example/ww/send?shop_id=%s",
		}}
		dispatcher = service.NewTaskDispatcher(stores, q, sessions, sendURL, time.Minute, nil)
	})

	Describe("NextTaskID", func() {
		It("returns nil on an empty queue", func() {
			taskID, err := dispatcher.NextTaskID(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(taskID).To(BeNil())
		})

		It("returns the popped task id", func() {
			q.popFn = func(_ context.Context) (int64, bool, error) {
				return 42, true, nil
			}

			taskID, err := dispatcher.NextTaskID(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(taskID).To(HaveValue(Equal(int64(42))))
		})
	})

	Describe("SendInfo", func() {
		BeforeEach(func() {
			stores.tasks.getByIDFn = func(_ context.Context, taskID int64) (*model.SendTask, error) {
				return &model.SendTask{
					TaskID:      taskID,
					SessionID:   "sess_x",
					SendContent: "您好，请问订单的发货时间能否确定？",
					ShopName:    "精品浴缸店",
					Status:      model.TaskPending,
				}, nil
			}
			stores.sessions.getByIDFn = func(_ context.Context, sessionID string) (*model.Session, error) {
				return &model.Session{
					SessionID: sessionID,
					ShopID:    "shop-1001",
					Platform:  config.PlatformTaotian,
					State:     model.SessionPending,
				}, nil
			}
		})

		It("returns the payload with the derived send url and flips the status", func() {
			var flipped bool
			stores.tasks.markSentFn = func(_ context.Context, taskID int64, _ time.Time) (bool, error) {
				Expect(taskID).To(Equal(int64(42)))
				flipped = true
				return true, nil
			}

			info, err := dispatcher.SendInfo(ctx, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(info.SendContent).To(Equal("您好，请问订单的发货时间能否确定？"))
			Expect(info.SendURL).To(Equal("https://chat.taotian.example/ww/send?shop_id=shop-1001"))
			Expect(info.ShopName).To(Equal("精品浴缸店"))
			Expect(flipped).To(BeTrue())
		})

		It("returns the same payload on a repeated read without a second flip", func() {
			stores.tasks.markSentFn = func(_ context.Context, _ int64, _ time.Time) (bool, error) {
				return false, nil
			}

			info, err := dispatcher.SendInfo(ctx, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(info.SendContent).NotTo(BeEmpty())
		})

		It("returns TASK_NOT_FOUND for an unknown task", func() {
			stores.tasks.getByIDFn = nil

			_, err := dispatcher.SendInfo(ctx, 99)
			Expect(service.ErrCode(err)).To(Equal(service.CodeTaskNotFound))
		})

		It("fails when no template covers the platform", func() {
			stores.sessions.getByIDFn = func(_ context.Context, sessionID string) (*model.Session, error) {
				return &model.Session{SessionID: sessionID, ShopID: "shop-1001", Platform: "pinxi"}, nil
			}

			_, err := dispatcher.SendInfo(ctx, 42)
			Expect(service.ErrCode(err)).To(Equal(service.CodeValidation))
		})
	})

	Describe("Reconcile", func() {
		It("re-queues tasks stuck in pending past the grace window", func() {
			stores.tasks.listStalePendingFn = func(_ context.Context, olderThan time.Time) ([]model.SendTask, error) {
				Expect(olderThan).To(BeTemporally("~", time.Now().Add(-time.Minute), time.Second))
				return []model.SendTask{
					{TaskID: 1, Status: model.TaskPending},
					{TaskID: 2, Status: model.TaskPending},
				}, nil
			}

			pushed, err := dispatcher.Reconcile(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(pushed).To(Equal(2))
			Expect(q.pushed).To(Equal([]int64{1, 2}))
		})

		It("does not count tasks the queue already holds", func() {
			stores.tasks.listStalePendingFn = func(_ context.Context, _ time.Time) ([]model.SendTask, error) {
				return []model.SendTask{{TaskID: 1, Status: model.TaskPending}}, nil
			}
			q.pushFn = func(_ context.Context, _ int64) (bool, error) {
				return false, nil
			}

			pushed, err := dispatcher.Reconcile(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(pushed).To(BeZero())
		})
	})

	Describe("RetryFailed", func() {
		It("re-opens a failed task and pushes it", func() {
			var from []model.TaskStatus
			var to model.TaskStatus
			stores.tasks.setStatusFn = func(_ context.Context, _ int64, f []model.TaskStatus, t model.TaskStatus, _ time.Time) (bool, error) {
				from, to = f, t
				return true, nil
			}

			err := dispatcher.RetryFailed(ctx, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(from).To(Equal([]model.TaskStatus{model.TaskFailed}))
			Expect(to).To(Equal(model.TaskPending))
			Expect(q.pushed).To(Equal([]int64{5}))
		})

		It("rejects a task that is not failed", func() {
			stores.tasks.setStatusFn = func(_ context.Context, _ int64, _ []model.TaskStatus, _ model.TaskStatus, _ time.Time) (bool, error) {
				return false, nil
			}

			err := dispatcher.RetryFailed(ctx, 5)
			Expect(service.ErrCode(err)).To(Equal(service.CodeInvalidState))
		})
	})
})

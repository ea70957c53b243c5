package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal"
)

var _ = Describe("AppError", func() {
	DescribeTable("status codes",
		func(err *internal.AppError, status int) {
			Expect(err.StatusCode).To(Equal(status))
		},
		Entry("validation", internal.NewValidationError("bad", internal.ErrCodeValidationFailed), http.StatusBadRequest),
		Entry("processing", internal.NewProcessingError("short", internal.ErrCodeInsufficientCash), http.StatusUnprocessableEntity),
		Entry("method disabled", internal.NewMethodDisabledError("off", internal.ErrCodePixDisabled), http.StatusServiceUnavailable),
		Entry("gateway", internal.ErrAPICommunication, http.StatusBadGateway),
		Entry("not found", internal.ErrTransactionNotFound, http.StatusNotFound),
		Entry("conflict", internal.ErrInvalidStateTransition, http.StatusConflict),
		Entry("unauthorized", internal.ErrTokenExpired, http.StatusUnauthorized),
		Entry("forbidden", internal.ErrMissingPermission, http.StatusForbidden),
		Entry("internal", internal.NewInternalError("boom", nil), http.StatusInternalServerError),
	)

	It("should leave sentinels untouched when a clone is decorated", func() {
		clone := internal.ErrTransactionConflict.Clone().WithCause(errors.New("stale")).WithDetails("v2")

		Expect(internal.ErrTransactionConflict.Cause).To(BeNil())
		Expect(internal.ErrTransactionConflict.Details).To(BeNil())
		Expect(errors.Is(clone, internal.ErrTransactionConflict)).To(BeTrue())
		Expect(errors.Is(clone, internal.ErrTransactionNotFound)).To(BeFalse())
		Expect(clone.Error()).To(ContainSubstring("stale"))
	})

	It("should unwrap to its cause", func() {
		err := internal.NewInternalError("store failed", context.DeadlineExceeded)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	It("should surface field messages", func() {
		err := internal.NewValidationFieldError("amount", "amount must be greater than zero", internal.ErrCodeInvalidAmount)

		Expect(err.Code).To(Equal(internal.ErrCodeValidationFailed))
		Expect(err.Error()).To(Equal("amount must be greater than zero"))
		Expect(err.GetDetailedMessage()).To(Equal("amount must be greater than zero"))
	})

	It("should wrap itself in the error envelope and decode back", func() {
		status, body := internal.NewValidationFieldError("amount", "too small", internal.ErrCodeInvalidAmount).ToHTTPResponse()
		Expect(status).To(Equal(http.StatusBadRequest))

		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(HavePrefix(`{"error":{"type":`))
		Expect(string(raw)).NotTo(ContainSubstring("StatusCode"))

		var decoded struct {
			Error *internal.AppError `json:"error"`
		}
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded.Error.Code).To(Equal(internal.ErrCodeValidationFailed))
		details, ok := decoded.Error.Details.(internal.ValidationErrors)
		Expect(ok).To(BeTrue())
		Expect(details.Errors[0].Field).To(Equal("amount"))
		Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeInvalidAmount)))
	})

	It("should recognise app errors", func() {
		_, ok := internal.IsAppError(errors.New("plain"))
		Expect(ok).To(BeFalse())
		appErr, ok := internal.IsAppError(internal.ErrCheckoutNotFound)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(internal.ErrCodeCheckoutNotFound))
	})
})

var _ = Describe("operator context", func() {
	It("should round trip the operator id", func() {
		ctx := internal.ContextWithOperatorID(context.Background(), "cashier-7")
		Expect(internal.OperatorIDFromContext(ctx)).To(Equal("cashier-7"))
		Expect(internal.OperatorIDFromContext(context.Background())).To(BeEmpty())
	})

	It("should default timeouts to five seconds", func() {
		ctx, cancel := internal.WithTimeout(context.Background(), 0)
		defer cancel()
		deadline, ok := ctx.Deadline()
		Expect(ok).To(BeTrue())
		Expect(deadline).To(BeTemporally("~", time.Now().Add(5*time.Second), time.Second))
	})
})

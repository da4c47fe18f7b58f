package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// CompanyContextKey is the key for storing the tenant id in a request context.
type CompanyContextKey struct{}

// ExtractCompanyID reads the tenant id from the request.
// Priority: 1. context (set by upstream auth), 2. X-Company-ID header,
// 3. company_id query param.
func ExtractCompanyID(r *http.Request) (int64, error) {
	if id, ok := r.Context().Value(CompanyContextKey{}).(int64); ok && id > 0 {
		return id, nil
	}
	for _, raw := range []string{r.Header.Get("X-Company-ID"), r.URL.Query().Get("company_id")} {
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("malformed company id %q", raw)
		}
		return id, nil
	}
	return 0, fmt.Errorf("company id not found in request")
}

// RequireCompany rejects requests without a tenant and stores the id in
// the request context.
func RequireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := ExtractCompanyID(r)
		if err != nil {
			httputil.ErrorCode(w, http.StatusBadRequest, "company_required", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), CompanyContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// companyID returns the tenant stored by RequireCompany.
func companyID(r *http.Request) int64 {
	id, _ := r.Context().Value(CompanyContextKey{}).(int64)
	return id
}

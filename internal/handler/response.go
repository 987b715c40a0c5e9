// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/memberportal/internal/middleware"
	"github.com/hitoshi/memberportal/internal/model"
)

// maxRequestBodySize はリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗した場合はINVALID_REQUESTの*model.APIErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeMissingRequiredFields:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeEmailDomainNotAllowed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// methodNotAllowed は許可されていないHTTPメソッドに405を返す。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorResponse(w, http.StatusMethodNotAllowed, model.NewMethodNotAllowedError(r.Method))
}

// notFound は存在しないエンドポイントに404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
}

// resolveCaller はBearer認証済みの場合に、リクエストの識別子をトークンの値で補完する。
// 認証済みユーザーと異なるuser_idが指定された場合はUNAUTHORIZEDを返す。
// 認証が無効な構成では値をそのまま返す。
func resolveCaller(r *http.Request, userID, email string) (string, string, error) {
	tokenUserID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return userID, email, nil
	}
	if userID == "" {
		userID = tokenUserID
	} else if userID != tokenUserID {
		return "", "", model.NewUnauthorizedError()
	}
	if email == "" {
		email = middleware.EmailFromContext(r.Context())
	}
	return userID, email, nil
}

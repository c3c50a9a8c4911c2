package utils

import (
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		zap.L().Debug("failed to write response", zap.Error(err))
	}
}

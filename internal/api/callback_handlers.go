package api

import (
	"fmt"
	"html"
	"net/http"

	"go.uber.org/zap"

	"github.com/guildgate/guildgate/internal/verify"
)

const successPage = `<!DOCTYPE html>
<html>
<head><title>Authorization Complete</title></head>
<body style="text-align:center;font-family:sans-serif;padding:50px">
<h1>Authorization Complete</h1>
<p>You have granted the requested permissions. You may return to the app.</p>
<p style="color:#666">This window will close automatically.</p>
<script>setTimeout(function(){window.close()},5000)</script>
</body>
</html>
`

const failurePage = `<!DOCTYPE html>
<html>
<head><title>Authorization Failed</title></head>
<body style="text-align:center;font-family:sans-serif;padding:50px">
<h1>Authorization Failed</h1>
<p>%s</p>
<p style="color:#666">Please start the verification again.</p>
</body>
</html>
`

// HandleCallback receives the provider's redirect, drives reconciliation and
// always answers the browser with a terminal 200 HTML page: the browser leg
// does not depend on the reconciliation outcome.
func HandleCallback(verifier *verify.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		logger.Info("authorization callback received",
			zap.Bool("has_code", code != ""),
			zap.String("state", state))

		result := verifier.Reconcile(r.Context(), code, state)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		if result.Succeeded() {
			fmt.Fprint(w, successPage)
			return
		}
		fmt.Fprintf(w, failurePage, html.EscapeString(result.Reason))
	}
}

// HandleHealth answers liveness probes
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

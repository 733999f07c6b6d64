// Package webhook exposes signed HTTP endpoints as a bridge command source.
//
// Each configured endpoint maps a URL path to a chat command. A delivery
// whose HMAC-SHA256 signature checks out becomes one bridge.Command whose
// message is the raw request body, so external services (GitHub, CI
// systems) can run the same services chat users do.
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked (413 if too large)
//  3. Signature header verified with a constant-time comparison (403 on mismatch)
//  4. Command handed to the bridge (503 if it is not taken in time)
//  5. 202 Accepted returned with the correlation id
//
// The reply is posted to the endpoint's callback_url when one is set and
// logged otherwise. Query parameters named "option" become command options.
//
// # Configuration
//
//	bridge:
//	  webhooks:
//	    listen: "127.0.0.1:8091"
//	    endpoints:
//	      - path: /hooks/github
//	        command: deploy
//	        secret: ${GITHUB_WEBHOOK_SECRET}
//	        signature_header: X-Hub-Signature-256
//	        max_body_size: 1MB
//	        callback_url: http://127.0.0.1:9000/deploy-result
package webhook

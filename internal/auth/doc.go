// Package auth provides authentication for bot-manager.
//
// # Worker Credentials
//
// Bots log in with a credential on the login frame. When the directory holds a
// bcrypt hash for the worker, the credential must match it:
//
//	if err := auth.VerifyCredential(worker.CredentialHash, req.Credential); err != nil {
//	    // reject
//	}
//
// Workers without a stored hash are accepted.
//
// # Operator Tokens
//
// The HTTP API is protected by HS256 JWTs signed with the configured
// jwt_secret. The "sub" claim names the operator:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops", 24*time.Hour)
//
// HTTPAuthMiddleware rejects requests without a valid bearer token and
// stores the operator in the request context (see OperatorFromContext).
package auth

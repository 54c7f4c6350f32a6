// Package server implements the authorization server core.
//
// A Server authenticates clients at the token endpoint, runs the
// authorization_code, refresh_token, client_credentials and password grant
// handlers, processes authorization requests (including consent), answers
// introspection and revocation, and enforces the endpoint access policy.
// It knows nothing about HTTP; the root oauth package adapts it to
// net/http.
//
// State lives behind the storage interfaces. Operations that must be
// linearizable (code redemption, refresh rotation) are delegated to a
// single store call each, and every store call is bounded by
// Config.StoreTimeout.
//
// Every error returned by the Server is a *Error whose Kind maps to an
// OAuth error code:
//
//	srv, err := server.New(store, &server.Config{Issuer: "https://auth.example.com"}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := srv.AuthenticateClient(ctx, creds, clientIP)
//	if err != nil {
//	    status := oauth.StatusForKind(server.KindOf(err))
//	    ...
//	}
//	resp, err := srv.Token(ctx, client, &server.TokenRequest{GrantType: "client_credentials"})
package server

/*
Package services exposes a sealbatch protocol instance over HTTP.

# Components

  - Service: chi routes over a *protocol.Protocol
  - Journal: an EventSink appending every event to a blake3 hash-chained
    audit log, stored in PostgreSQL (PostgresStore) or memory (InMemoryStore)
  - Client: a signing client for the API
  - Node: wires protocol, oracle, storage, journal and service together

# Endpoints

Signed requests carry a protocol.Signed envelope. The recovered signer is
the caller, and its nonce must exceed every nonce it used before.

	POST /admin/{command}        Signed[AdminCommand]
	POST /submissions            Signed[SubmissionMessage]
	POST /oracle/callback        CallbackMessage, authenticated by its proof
	GET  /state
	GET  /batches/{id}
	GET  /batches/{id}/aggregate
	GET  /requests/{id}
	GET  /oracle/key
	GET  /audit?from=&limit=
	GET  /audit/verify

Failures answer with an ErrorResponse whose code is the protocol error code
(see protocol.ErrorCode), or one of bad_request, invalid_signature and
stale_nonce.

# Usage

	node, err := services.NewNode(&services.NodeConfig{
	    Protocol:  protocolConfig,
	    Keyholder: keyholder,
	    Signer:    signer,
	    Quorum:    quorum,
	    Storage:   db,
	})
	if err != nil {
	    log.Fatal(err)
	}
	srv, _ := httpserver.New(httpConfig, node)
	srv.RunInBackground()
	go node.Run(ctx)
*/
package services

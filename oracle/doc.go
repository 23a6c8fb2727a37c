/*
Package oracle runs a decryption oracle for sealbatch protocol instances.

The oracle holds the exchange key that submissions are masked to and a
signing quorum. A protocol hands it requests through Dispatch, which only
enqueues. A worker started with Run picks requests up, resolves their
handles in the shared ciphertext store, decrypts the two totals and signs
DecryptionDigest with the quorum. The signed answer is delivered to a
CallbackReceiver: either the protocol itself when running in-process, or
an HTTPReceiver posting to a remote service.

	o := oracle.New(oracle.DefaultConfig(), keyholder, store, signer, log)
	p, _ := protocol.New(cfg, protocol.Deps{Dispatcher: o, ...})
	o.SetReceiver(p)
	go o.Run(ctx)

Failed deliveries are logged and dropped. The protocol keeps the request
unprocessed, so an operator can re-issue it once the cooldown passes.
*/
package oracle

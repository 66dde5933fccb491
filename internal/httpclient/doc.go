// Package httpclient is the HTTP request primitive used by scenario scripts.
//
// A single [http.Client] built by [NewClient] is shared by every virtual user
// of a run. Its transport keeps enough idle connections per host for the
// configured concurrency, never follows redirects and never negotiates
// response compression, so the measured sizes and latencies are those of the
// exact request the script issued.
//
// [Executor] wraps the client with a base URL and records each outcome into
// the calling VU's [metrics.LocalStats]:
//
//	exec, err := httpclient.NewExecutor(client, "http://localhost:8080")
//	if err != nil {
//		return err
//	}
//	resp := exec.Do(ctx, httpclient.Request{Method: "GET", URL: "/health"}, local)
//	if resp.Status() != http.StatusOK {
//		// ...
//	}
//
// Transport failures do not surface as Go errors. They are recorded as named
// error samples and reported through a [Response] whose status is zero and
// whose [Response.Err] carries the message.
package httpclient

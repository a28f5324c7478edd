// Package chat adapts OpenAI-compatible chat completion endpoints (OpenRouter
// by default) to the capability.Provider contract.
//
// Input is a Request encoded as JSON. The model is asked for a JSON object;
// the decoded object is the capability output. One Invoke is one HTTP
// attempt: retries and fallback belong to the executor, so failures are only
// classified here (429 as quota, 408/5xx/network as transient, other 4xx as
// fatal).
package chat

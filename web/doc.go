// Package web serves the onboarding flows over HTTP.
//
// Every step route answers GET with a JSON view of the step and POST with
// the step itself. POST bodies may be form encoded or JSON. A successful
// step is saved once and answered with 303 See Other to the next canonical
// route; a failed step re-renders the view with the error and the status of
// its kind. All step routes sit behind [middleware.Guard], so a session can
// only reach the step that matches its position.
package web

package handlers

import (
	"net/http"

	. "maragu.dev/gomponents"
	"maragu.dev/gomponents/html"
)

const pageStyle = `
	body {
		font-family: Arial, sans-serif;
		max-width: 640px;
		margin: 50px auto;
		padding: 20px;
		text-align: center;
	}
	h1 { color: #333; }
	p { color: #666; font-size: 18px; }
	.success { color: #4CAF50; font-size: 48px; margin-bottom: 20px; }
	.failure { color: #C62828; font-size: 48px; margin-bottom: 20px; }
	a.button, button {
		display: inline-block;
		padding: 12px 24px;
		background: #1a4d8f;
		color: #fff;
		border: 0;
		border-radius: 4px;
		text-decoration: none;
		font-size: 16px;
	}
	input { padding: 10px; width: 70%; font-size: 14px; }
	form { margin-top: 40px; }
`

func page(title string, body ...Node) Node {
	return html.Doctype(
		html.HTML(
			html.Head(
				html.Meta(html.Charset("UTF-8")),
				html.TitleEl(Text(title)),
				html.StyleEl(Raw(pageStyle)),
			),
			html.Body(body...),
		),
	)
}

func loginPage(authURL string) Node {
	return page("Saxo authorization",
		html.H1(Text("Authorize the trader")),
		html.P(Text("Sign in with the broker to let scheduled orders run.")),
		html.A(html.Class("button"), html.Href(authURL), Text("Open authorization page")),
		html.Form(html.Method("post"), html.Action("/authorize"),
			html.P(Text("If the redirect does not reach this process, paste the code here:")),
			html.Input(html.Type("text"), html.Name("code"), html.Placeholder("authorization code"), html.Required()),
			html.Button(html.Type("submit"), Text("Submit code")),
		),
	)
}

func authenticatedPage() Node {
	return page("Already authenticated",
		html.Div(html.Class("success"), Text("✓")),
		html.H1(Text("Already authenticated")),
		html.P(Text("The session holds valid tokens. Log out first to start a new authorization.")),
	)
}

func successPage() Node {
	return page("Authentication Successful",
		html.Div(html.Class("success"), Text("✓")),
		html.H1(Text("Authentication Successful!")),
		html.P(Text("You can close this window. Scheduled orders will resume automatically.")),
	)
}

func failurePage(msg string) Node {
	return page("Authentication Failed",
		html.Div(html.Class("failure"), Text("✗")),
		html.H1(Text("Authentication Failed")),
		html.P(Text(msg)),
		html.P(html.A(html.Href("/login"), Text("Try again"))),
	)
}

func renderPage(w http.ResponseWriter, status int, n Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = n.Render(w)
}

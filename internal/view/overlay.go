// Package view renders the gate overlay document.
package view

import (
	"io"

	g "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"github.com/ComUnity/access-gate/internal/gate"
)

type OverlayProps struct {
	Title     string // e.g. "Pitch Deck"
	Action    string // submit endpoint
	Path      string // where to go once access is granted
	CSRFField string // pre-rendered hidden input, may be empty
	State     gate.State
}

const overlayCSS = `
html,body{margin:0;height:100%;font-family:system-ui,sans-serif}
.vb-gate{position:fixed;inset:0;z-index:2147483647;display:flex;align-items:center;justify-content:center;background:rgba(15,23,42,.85)}
.vb-gate__card{width:100%;max-width:24rem;padding:2rem;border-radius:1rem;background:#fff;box-shadow:0 20px 40px rgba(0,0,0,.3)}
.vb-gate__card h2{margin:0 0 .5rem;font-size:1.5rem}
.vb-gate__card p{margin:0 0 1.25rem;color:#475569}
.vb-gate__field{display:block;margin-bottom:1rem}
.vb-gate__field span{display:block;margin-bottom:.25rem;font-size:.875rem}
.vb-gate__field input{box-sizing:border-box;width:100%;padding:.6rem .75rem;border:1px solid #cbd5e1;border-radius:.5rem}
.vb-gate__error{color:#b91c1c;font-size:.875rem}
.vb-gate__submit{width:100%;padding:.75rem;border:0;border-radius:.5rem;background:#0f172a;color:#fff;font-weight:600}
.vb-gate__submit[disabled]{opacity:.6}
`

// GateOverlay is the full-viewport blocking overlay with the contact form.
func GateOverlay(p OverlayProps) g.Node {
	st := p.State
	submitLabel := "Get access"
	if st.IsSubmitting {
		submitLabel = "Submitting..."
	}

	return Doctype(
		HTML(
			Lang("en"),
			Head(
				Meta(Charset("utf-8")),
				Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
				Meta(Name("robots"), Content("noindex")),
				TitleEl(g.Text("Access the "+p.Title)),
				StyleEl(g.Raw(overlayCSS)),
			),
			Body(
				Div(
					Class("vb-gate"), Role("dialog"), Aria("modal", "true"), Aria("labelledby", "vb-gate-title"),
					Div(
						Class("vb-gate__card"),
						H2(ID("vb-gate-title"), g.Text("Access the "+p.Title)),
						P(g.Text("Leave your email and mobile number to continue.")),
						Form(
							Method("post"), Action(p.Action), g.Attr("novalidate"),
							g.Raw(p.CSRFField),
							Input(Type("hidden"), Name("path"), Value(p.Path)),
							Label(
								Class("vb-gate__field"),
								Span(g.Text("Email")),
								Input(Type("email"), Name("email"), Value(st.Email), AutoComplete("email"),
									Placeholder("you@company.com"), Required()),
							),
							Label(
								Class("vb-gate__field"),
								Span(g.Text("Mobile number")),
								Input(Type("tel"), Name("phone"), Value(st.Phone), AutoComplete("tel"),
									Placeholder("+1 555 123 4567"), Required()),
							),
							g.If(st.ErrorMessage != "",
								P(Class("vb-gate__error"), Role("alert"), g.Text(st.ErrorMessage)),
							),
							Button(
								Class("vb-gate__submit"), Type("submit"),
								g.If(st.IsSubmitting, Disabled()),
								g.Text(submitLabel),
							),
						),
					),
				),
			),
		),
	)
}

// RenderOverlay writes the overlay document to w.
func RenderOverlay(w io.Writer, p OverlayProps) error {
	return GateOverlay(p).Render(w)
}

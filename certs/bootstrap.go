package certs

import (
	"fmt"
	"html/template"
	"net"
	"net/http"

	"github.com/nedpals/davi-nfc-session/buildinfo"
	"github.com/rs/zerolog"
)

// Bootstrap routes
const (
	RouteCACert = "/ca.pem"
	RouteCACrt  = "/ca.crt"
)

var instructionsTmpl = template.Must(template.New("instructions").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.App}} - Install CA Certificate</title>
</head>
<body>
<h1>Install CA Certificate</h1>
<p>Install this certificate authority so that this device can connect to {{.App}} over a secure websocket.</p>
<p><a href="/ca.pem">Download CA Certificate</a></p>
<p>Check that the fingerprint matches the one in the {{.App}} logs before trusting it.</p>
<pre>{{.Fingerprint}}</pre>
<h2>iOS</h2>
<ol>
<li>Download the certificate and open Settings, Profile Downloaded.</li>
<li>Install the profile.</li>
<li>Enable full trust under General, About, Certificate Trust Settings.</li>
</ol>
<h2>Android</h2>
<ol>
<li>Download the certificate.</li>
<li>Open Settings, Security, Encryption &amp; credentials, Install a certificate, CA certificate.</li>
<li>Select the downloaded file.</li>
</ol>
<h2>Download URLs</h2>
<ul>{{range .URLs}}
<li>{{.}}</li>{{end}}
</ul>
</body>
</html>
`))

type instructionsData struct {
	App         string
	Fingerprint string
	URLs        []string
}

// BootstrapHandler serves the CA certificate and an installation page over
// plain HTTP so that devices can trust the CA before they connect with TLS.
func BootstrapHandler(store *Store, port int, logger zerolog.Logger) http.Handler {
	log := logger.With().Str("component", "bootstrap").Logger()
	mux := http.NewServeMux()

	serveCA := func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, store.CAFile())
		log.Info().Str("remote", r.RemoteAddr).Msg("CA certificate downloaded")
	}
	mux.HandleFunc(RouteCACert, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Header().Set("Content-Disposition", `attachment; filename="davi-nfc-ca.pem"`)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		serveCA(w, r)
	})
	mux.HandleFunc(RouteCACrt, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		serveCA(w, r)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fingerprint, err := store.CAFingerprint()
		if err != nil {
			fingerprint = "unavailable"
		}
		hosts, _ := Hosts()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := instructionsTmpl.Execute(w, instructionsData{
			App:         buildinfo.DisplayName,
			Fingerprint: fingerprint,
			URLs:        downloadURLs(hosts, port),
		}); err != nil {
			log.Debug().Err(err).Msg("failed to render instructions")
		}
	})
	return mux
}

func downloadURLs(hosts []string, port int) []string {
	var urls []string
	for _, h := range hosts {
		if h != "localhost" && net.ParseIP(h) == nil {
			continue
		}
		urls = append(urls, fmt.Sprintf("http://%s%s", net.JoinHostPort(h, fmt.Sprint(port)), RouteCACert))
	}
	return urls
}

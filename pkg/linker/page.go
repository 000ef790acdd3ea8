package linker

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

const pageName = "auth.html"

var authPage = template.Must(template.New(pageName).Parse(`<html>
  <head>
    <title>plaid2qfx</title>
  </head>
  <body>
    <h1>plaid2qfx</h1>
    <p>{{ .Intro }} Nothing entered in the Plaid window is visible to plaid2qfx, your credentials stay between you and Plaid.</p>
    <button id="linkButton">{{ .Button }}</button>
    <p>{{ .Outro }}</p>
    <p id="results"></p>
    <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
    <script>
      var linkHandler = Plaid.create({
        token: {{ .Token }},
        onSuccess: function(public_token, metadata) {
          document.getElementById("results").innerText = "public_token: " + public_token;
        },
        onExit: function(err, metadata) {
          if (err != null) {
            document.getElementById("results").innerText = "Link exited with " + err.error_code + ": " + err.display_message;
          }
        }
      });
      document.getElementById("linkButton").onclick = function() {
        linkHandler.open();
      };
    </script>
  </body>
</html>
`))

type page struct {
	Token  string
	Intro  string
	Button string
	Outro  string
}

func linkPage(token string) page {
	return page{
		Token:  token,
		Intro:  "Click the button below to log in to your bank through Plaid Link.",
		Button: "Start Linking My Bank",
		Outro:  "The public_token shown below when Link finishes needs to be pasted back into plaid2qfx.",
	}
}

func updatePage(token string) page {
	return page{
		Token:  token,
		Intro:  "Your bank needs you to log in again before transactions can be downloaded.",
		Button: "Log In Again",
		Outro:  "Return to plaid2qfx once Link reports success.",
	}
}

// writePage renders p into dir and returns the absolute path of the file.
func writePage(dir string, p page) (string, error) {
	path, err := filepath.Abs(filepath.Join(dir, pageName))
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create auth page: %w", err)
	}
	defer f.Close()

	if err := authPage.Execute(f, p); err != nil {
		return "", fmt.Errorf("failed to render auth page: %w", err)
	}

	return path, nil
}

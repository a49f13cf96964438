// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"lakeprov/internal/lakefile"
)

// projectStageDir is the subdirectory of the staged build context holding
// the filtered project tree. Keeping it separate from the context root lets
// the recipe copy the manifest (layer 1) and the tree (layer 2)
// independently, which is what makes the install-before-copy ordering a
// real layer boundary.
const projectStageDir = "project"

// recipeTemplate renders the container recipe. Step order is load-bearing:
// the manifest is copied and installed before the project tree is copied,
// so dependency resolution never sees project files, and the search-path
// extension comes last. pip's download cache is disabled to keep the image
// minimal; every build re-fetches packages.
const recipeTemplate = `FROM {{ .BaseImage }}

WORKDIR {{ .Workdir }}

COPY {{ .Manifest }} ./
RUN pip install --no-cache-dir -r {{ .Manifest }}

COPY {{ .ProjectDir }}/ ./{{ .ProjectSubdir }}/
{{- if .Env }}
{{ range $name, $value := .Env }}ENV {{ $name }}={{ $value | quote }}
{{ end -}}
{{- end }}
ENV {{ .SearchPathVar }}={{ .SearchPathValue | quote }}
`

type recipeData struct {
	BaseImage       string
	Workdir         string
	Manifest        string
	ProjectDir      string
	ProjectSubdir   string
	Env             map[string]string
	SearchPathVar   string
	SearchPathValue string
}

// RenderRecipe produces the container recipe for a provisioning spec.
// Output is deterministic: template maps iterate in key order, so identical
// specs always render byte-identical recipes (which the cache key relies on).
func RenderRecipe(spec *lakefile.Lakefile) (string, error) {
	tmpl, err := template.New("recipe").Funcs(sprig.TxtFuncMap()).Parse(recipeTemplate)
	if err != nil {
		return "", fmt.Errorf("internal error: failed to parse recipe template: %w", err)
	}

	data := recipeData{
		BaseImage:       spec.BaseImage,
		Workdir:         spec.Workdir,
		Manifest:        spec.Manifest,
		ProjectDir:      projectStageDir,
		ProjectSubdir:   spec.ProjectSubdir,
		Env:             spec.Env,
		SearchPathVar:   spec.SearchPathVar,
		SearchPathValue: spec.SearchPathValue(),
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render recipe: %w", err)
	}

	return sb.String(), nil
}

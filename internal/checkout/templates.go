package checkout

import (
	"fmt"
	"strings"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// defaultUnitTemplate is used when an image doesn't ship its own
// exports/service.template and its exports manifest sets no unit_template.
const defaultUnitTemplate = `[Unit]
Description=$NAME

[Service]
ExecStartPre=$EXEC_STARTPRE
ExecStart=$EXEC_START
ExecStop=$EXEC_STOP
ExecStopPost=$EXEC_STOPPOST
Restart=on-failure
WorkingDirectory=$DESTDIR
PIDFile=$PIDFILE

[Install]
WantedBy=multi-user.target
`

// isDetached reports whether template references both $EXEC_STOPPOST and
// $PIDFILE, the signal to generate a detached-with-pid-file EXEC_* form
// rather than a foreground run/kill pair.
func isDetached(template string) bool {
	if template == "" {
		template = defaultUnitTemplate
	}
	return strings.Contains(template, "$EXEC_STOPPOST") && strings.Contains(template, "$PIDFILE")
}

// RenderUnit expands template (or the built-in default) against values,
// returning ocierrors.ErrTemplateVariableUnresolved if any $VAR reference
// has no value in reserved, override, or manifest-default scope.
func RenderUnit(template string, values *Values) (string, error) {
	if template == "" {
		template = defaultUnitTemplate
	}
	var unresolved []string
	rendered := values.Expand(template, &unresolved)
	if len(unresolved) > 0 {
		return "", fmt.Errorf("%w: %v", ocierrors.ErrTemplateVariableUnresolved, unresolved)
	}
	return rendered, nil
}

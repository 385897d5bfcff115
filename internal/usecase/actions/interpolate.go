package actions

import (
	"slices"
	"strconv"
	"strings"

	"streamBot/internal/domain"
)

// Variables especiales; los atributos del evento se exponen además como $<clave>.
const (
	VarUsername              = "$username"
	VarUserDisplayName       = "$userdisplayname"
	VarTargetUsername        = "$targetusername"
	VarTargetUserDisplayName = "$targetuserdisplayname"
	VarAllArgs               = "$allargs"
	VarPlatform              = "$platform"
	VarCommandName           = "$commandname"
)

// Interpolate reemplaza las variables del texto. Las claves más largas se prueban primero para
// que $usersubmonthsgifted no quede cortada por $usersubmonths.
func Interpolate(text string, ec *domain.ExecutionContext, counters map[string]float64) string {
	if ec == nil || !strings.Contains(text, "$") {
		return text
	}

	vars := make(map[string]string, len(ec.Attributes)+len(ec.Arguments)+len(counters)+8)
	for name, value := range counters {
		vars["$"+name] = strconv.FormatFloat(value, 'f', -1, 64)
	}
	for key, value := range ec.Attributes {
		vars["$"+strings.ToLower(key)] = value
	}
	for i, arg := range ec.Arguments {
		vars["$arg"+strconv.Itoa(i+1)+"text"] = arg
	}
	vars[VarAllArgs] = strings.Join(ec.Arguments, " ")
	vars[VarPlatform] = string(ec.Platform)
	vars[VarCommandName] = ec.CommandName

	username, display := domain.AnonymousUsername, domain.AnonymousUsername
	if ec.User != nil {
		username, display = ec.User.Username(ec.Platform), ec.User.DisplayName(ec.Platform)
	}
	vars[VarUsername] = username
	vars[VarUserDisplayName] = display

	targetName, targetDisplay := targetNames(ec)
	vars[VarTargetUsername] = targetName
	vars[VarTargetUserDisplayName] = targetDisplay

	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, key, vars[key])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// targetNames usa el usuario objetivo del evento o, si no hay, el primer argumento sin '@'.
func targetNames(ec *domain.ExecutionContext) (string, string) {
	if ec.TargetUser != nil {
		return ec.TargetUser.Username(ec.Platform), ec.TargetUser.DisplayName(ec.Platform)
	}
	if len(ec.Arguments) > 0 {
		name := strings.TrimPrefix(ec.Arguments[0], "@")
		return name, name
	}
	return "", ""
}

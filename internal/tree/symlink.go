package tree

import (
	"path"
	"strings"
)

// TargetCompareKey normalizes a symlink target into a key under which
// equivalent links on different roots compare equal:
//
//	inroot:<rel>  target resolves inside the scan root
//	home:<rel>    absolute target inside the side's home directory
//	abs:<path>    any other absolute target
//	rel:<path>    relative target escaping the root
func TargetCompareKey(relpath, target, root, home string) string {
	if target == "" {
		return ""
	}
	normalized := path.Clean(strings.ReplaceAll(target, "\\", "/"))
	abs := resolveTarget(relpath, normalized, root)

	if rel, ok := relUnder(abs, path.Clean(root)); ok {
		return "inroot:" + rel
	}
	if path.IsAbs(normalized) {
		if rel, ok := relUnder(abs, path.Clean(home)); ok {
			return "home:" + rel
		}
		return "abs:" + abs
	}
	return "rel:" + normalized
}

// MapTargetForDestination rewrites a symlink target read on the source
// side so it points at the equivalent location on the destination side.
// In-root targets become relative links within the destination root,
// home-anchored targets are re-anchored on the destination home, and
// everything else is carried verbatim.
func MapTargetForDestination(srcRoot, srcHome, relpath, target, dstRoot, dstHome string) string {
	normalized := path.Clean(strings.ReplaceAll(target, "\\", "/"))
	abs := resolveTarget(relpath, normalized, srcRoot)

	if rel, ok := relUnder(abs, path.Clean(srcRoot)); ok {
		mappedAbs := path.Join(path.Clean(dstRoot), rel)
		linkDir := path.Dir(path.Join(path.Clean(dstRoot), relpath))
		return relSlash(linkDir, mappedAbs)
	}
	if path.IsAbs(normalized) {
		if rel, ok := relUnder(abs, path.Clean(srcHome)); ok {
			return path.Join(path.Clean(dstHome), rel)
		}
	}
	return normalized
}

// resolveTarget produces the lexically-resolved absolute form of target
// as seen from the link's directory under root.
func resolveTarget(relpath, target, root string) string {
	if path.IsAbs(target) {
		return path.Clean(target)
	}
	linkDir := path.Dir(path.Join(path.Clean(root), relpath))
	return path.Clean(path.Join(linkDir, target))
}

// relUnder returns p relative to base when p lies at or below base.
func relUnder(p, base string) (string, bool) {
	if p == base {
		return ".", true
	}
	if strings.HasPrefix(p, base+"/") {
		return p[len(base)+1:], true
	}
	return "", false
}

// relSlash computes the relative slash path from directory base to target.
// Both must be absolute and lexically clean.
func relSlash(base, target string) string {
	if base == target {
		return "."
	}
	baseParts := splitAbs(base)
	targetParts := splitAbs(target)

	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	var parts []string
	for i := common; i < len(baseParts); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func splitAbs(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

package encoder

import "github.com/nwca/fleece"

// scanBaseStrings walks every string value reachable from base's root value
// and seeds dedup with the address of the first occurrence of each distinct
// string; dict keys are not visited, only dict values.
// With this, Config.ReuseBaseStrings lets a delta encoding point back into
// the base document instead of writing a second copy (spec §4.6's
// "reuse_base_strings" option). The walk uses an explicit stack, the same
// non-recursive shape as the root package's Validate, so a deeply nested
// base document cannot overflow the call stack.
func scanBaseStrings(base []byte, dedup map[string]int) {
	root := fleece.FromTrustedData(base)
	if !root.IsValid() {
		return
	}
	stack := []fleece.Value{root}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch v.Kind() {
		case fleece.KindString:
			s := v.AsString()
			if addr, ok := v.BackedBy(base); ok {
				if _, exists := dedup[s]; !exists {
					dedup[s] = addr
				}
			}
		case fleece.KindArray:
			it := v.AsArray()
			for i := 0; i < it.Count(); i++ {
				stack = append(stack, it.At(i))
			}
		case fleece.KindDict:
			for it := v.AsDict().Iterate(); it.Next(); {
				stack = append(stack, it.Value())
			}
		}
	}
}

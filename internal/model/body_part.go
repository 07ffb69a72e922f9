package model

import "strings"

// BodyParts lists the anatomical regions the dashboard offers for an X-ray.
var BodyParts = []string{"Elbow", "Arm", "Hand", "Foot", "Ankle", "Leg", "Knee", "Shoulder"}

// NormalizeBodyPart returns the canonical spelling of a body part label
// and whether the label is known.
func NormalizeBodyPart(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, bp := range BodyParts {
		if strings.EqualFold(bp, label) {
			return bp, true
		}
	}
	return "", false
}

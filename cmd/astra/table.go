package main

import (
	"github.com/normanking/astraavatar/internal/avatar"
	"github.com/normanking/astraavatar/internal/config"
	"github.com/normanking/astraavatar/internal/conversation"
)

// tableFromConfig merges the configured poses and status labels. A phase
// named in only one of them borrows the other half from idle.
func tableFromConfig(cfg *config.Config) conversation.Table {
	idlePose := cfg.Avatar.Poses[conversation.Idle]
	idleLabel := cfg.UI.StatusText[conversation.Idle]

	table := make(conversation.Table)
	for name := range cfg.Avatar.Poses {
		table[name] = conversation.Phase{}
	}
	for name := range cfg.UI.StatusText {
		table[name] = conversation.Phase{}
	}

	for name := range table {
		pose, ok := cfg.Avatar.Poses[name]
		if !ok {
			pose = idlePose
		}
		label, ok := cfg.UI.StatusText[name]
		if !ok {
			label = idleLabel
		}
		table[name] = conversation.Phase{
			Pose: conversation.Pose{
				NeckX:  float32(pose.NeckX),
				NeckY:  float32(pose.NeckY),
				SpineY: float32(pose.SpineY),
			},
			Label: label,
		}
	}
	return table
}

func animatorConfig(cfg *config.Config) avatar.AnimatorConfig {
	a := cfg.Avatar
	return avatar.AnimatorConfig{
		PoseLerp:           float32(a.PoseLerpFactor),
		MouthLerp:          float32(a.LipSyncSmoothing),
		BlinkChanceIdle:    a.BlinkChanceIdle,
		BlinkChanceActive:  a.BlinkChanceActive,
		BreathingRate:      float32(a.BreathingRate),
		BreathingAmplitude: float32(a.BreathingAmplitude),
		SwayRate:           float32(a.SwayRate),
		SwayAmplitude:      float32(a.SwayAmplitude),
	}
}

package battle

// InfluenceDeltas are the persistent score adjustments applied to both
// commanders after a battle.
type InfluenceDeltas struct {
	Attacker int64
	Defender int64
}

// Influence computes the post-battle influence adjustments.
//
// The winner gains a tenth of the combat power it destroyed plus a
// participation bonus of a hundredth of the total engaged power, minus a
// twentieth of its own losses, floored at 1. The loser forfeits a twentieth
// of its own destroyed power, at least 1 when any power was engaged. A draw
// grants both sides the participation bonus halved.
//
// Postcondition: a winning attacker with light own losses and heavy defender
// losses nets a strictly larger positive delta than a narrow win, because
// the gain grows with destroyed enemy power and shrinks with own power lost.
func Influence(r Result, attackerEngagedPower, defenderEngagedPower int64) InfluenceDeltas {
	totalEngaged := attackerEngagedPower + defenderEngagedPower
	participation := totalEngaged / 100

	winnerGain := func(destroyed, ownLost int64) int64 {
		gain := destroyed/10 + participation - ownLost/20
		if gain < 1 {
			gain = 1
		}
		return gain
	}
	loserLoss := func(ownLost int64) int64 {
		loss := ownLost / 20
		if loss < 1 && totalEngaged > 0 {
			loss = 1
		}
		return -loss
	}

	switch r.Winner {
	case WinnerAttacker:
		return InfluenceDeltas{
			Attacker: winnerGain(r.DefenderPowerLost, r.AttackerPowerLost),
			Defender: loserLoss(r.DefenderPowerLost),
		}
	case WinnerDefender:
		return InfluenceDeltas{
			Attacker: loserLoss(r.AttackerPowerLost),
			Defender: winnerGain(r.AttackerPowerLost, r.DefenderPowerLost),
		}
	default:
		bonus := totalEngaged / 200
		return InfluenceDeltas{Attacker: bonus, Defender: bonus}
	}
}

package beagle

// This file forwards the setter/getter contract straight to the
// instance's backend. Every call validates the handle first; index-range
// validation beyond that is the backend's job (scalar/vector already
// bounds-check every buffer argument).

func SetPartials(handle, bufferIndex int, in []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetPartials(bufferIndex, in)
}

func GetPartials(handle, bufferIndex int, out []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.GetPartials(bufferIndex, out)
}

func SetTipStates(handle, tipIndex int, in []int) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetTipStates(tipIndex, in)
}

func SetEigenDecomposition(handle, eigenIndex int, evec, ievec, eval []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetEigenDecomposition(eigenIndex, evec, ievec, eval)
}

func SetCategoryRates(handle int, rates []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetCategoryRates(rates)
}

func SetTransitionMatrix(handle, matrixIndex int, in []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetTransitionMatrix(matrixIndex, in)
}

// GetScaleFactors and SetScaleFactors expose accumulated per-pattern log
// scalers directly so a caller can snapshot or transplant a scaling
// history across a proposal without redoing the peel.
func GetScaleFactors(handle, bufferIndex int, out []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.GetScaleFactors(bufferIndex, out)
}

func SetScaleFactors(handle, bufferIndex int, in []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.SetScaleFactors(bufferIndex, in)
}

// UpdateTransitionMatrices forwards to the instance's backend.
func UpdateTransitionMatrices(handle, eigenIndex int, probIdx, d1Idx, d2Idx []int, edgeLengths []float64) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.UpdateTransitionMatrices(eigenIndex, probIdx, d1Idx, d2Idx, edgeLengths)
}

// UpdatePartials batches the same op list across several independent
// instances: ops are applied to every listed handle in turn since each
// instance's buffers are disjoint.
func UpdatePartials(handles []int, ops []Op, rescale bool) ErrorCode {
	for _, h := range handles {
		b, ec := ready(h)
		if ec != Success {
			return ec
		}
		if ec := b.UpdatePartials(ops, rescale); ec != Success {
			return ec
		}
	}
	return Success
}

// WaitForPartials applies the wait barrier across every listed instance.
func WaitForPartials(handles []int, destIndices []int) ErrorCode {
	for _, h := range handles {
		b, ec := ready(h)
		if ec != Success {
			return ec
		}
		if ec := b.WaitForPartials(destIndices); ec != Success {
			return ec
		}
	}
	return Success
}

// CalculateRootLogLikelihoods forwards to the instance's backend.
func CalculateRootLogLikelihoods(handle int, req RootRequest) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.CalculateRootLogLikelihoods(req)
}

// CalculateEdgeLogLikelihoods forwards to the instance's backend.
func CalculateEdgeLogLikelihoods(handle int, req EdgeRequest) ErrorCode {
	b, ec := ready(handle)
	if ec != Success {
		return ec
	}
	return b.CalculateEdgeLogLikelihoods(req)
}

package mesh

// ApplyConversion builds the outbound message sent to a connection's
// destination by applying conv's rules against original (spec.md §4.10):
// from_original copies a property from the original message's bag;
// fixed_value writes a constant regardless of what the original carried.
// If conv is nil, original is forwarded unmodified (aside from the usual
// command-id cloning for fan-out, handled by the caller).
func ApplyConversion(conv *MsgConversion, original *Message) (*Message, error) {
	out := original.Clone()
	out.CmdID = original.CmdID
	out.ParentCmdID = original.ParentCmdID
	if conv == nil {
		return out, nil
	}
	out.Props = NewObject()
	for _, rule := range conv.Rules {
		val, err := resolveConversionValue(rule, original)
		if err != nil {
			return nil, err
		}
		if err := out.Props.Set(rule.Path, val); err != nil {
			return nil, WrapError(KindInvalidArgument, err, "applying conversion rule for %q", rule.Path)
		}
	}
	return out, nil
}

// ApplyResultConversion rewrites an inbound cmd_result before it is handed
// back along the in-path that spawned it, using conv's ResultRules the same
// way ApplyConversion uses Rules. A nil conv or an empty ResultRules slice
// is a no-op.
func ApplyResultConversion(conv *MsgConversion, result *Message) *Message {
	if conv == nil || len(conv.ResultRules) == 0 {
		return result
	}
	out := &Message{
		Type:        result.Type,
		Name:        result.Name,
		Src:         result.Src,
		Dest:        result.Dest,
		CmdID:       result.CmdID,
		ParentCmdID: result.ParentCmdID,
		Status:      result.Status,
		Props:       NewObject(),
	}
	for _, rule := range conv.ResultRules {
		val, err := resolveConversionValue(rule, result)
		if err != nil {
			continue // a malformed result-conversion rule must not sink the reply
		}
		_ = out.Props.Set(rule.Path, val)
	}
	return out
}

func resolveConversionValue(rule ConversionRule, src *Message) (*Value, error) {
	switch rule.Mode {
	case ConversionFixedValue:
		if rule.FixedValue == nil {
			return NewNull(), nil
		}
		return rule.FixedValue.Clone(), nil
	case ConversionFromOriginal:
		if src.Props == nil {
			return NewNull(), nil
		}
		val, ok := src.Props.Get(rule.OriginalPath)
		if !ok {
			return nil, NewError(KindInvalidArgument, "from_original path %q not present on source message", rule.OriginalPath)
		}
		return val.Clone(), nil
	}
	return nil, NewError(KindInvalidArgument, "unknown conversion mode %q", rule.Mode)
}

// AsResultConversion adapts a MsgConversion into the ResultConversion
// closure PathTable.OutPathEntry carries, so the conversion context
// travels with the out-path and is applied exactly once, on the reply.
func AsResultConversion(conv *MsgConversion) ResultConversion {
	if conv == nil || len(conv.ResultRules) == 0 {
		return nil
	}
	return func(result *Message) *Message {
		return ApplyResultConversion(conv, result)
	}
}

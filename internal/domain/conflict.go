package domain

// ResolveVote picks the surviving copy of one voter's vote: the later
// timestamp wins, and on a tie the remote copy wins.
func ResolveVote(local, remote Vote) Vote {
	if local.Timestamp.After(remote.Timestamp) {
		return local
	}
	return remote
}

// ResolveRating picks the aggregate snapshot to keep. The authority's
// snapshot wins unless it carries an older version than the one held,
// which only happens on out-of-order delivery.
func ResolveRating(local, remote CommunityRating) CommunityRating {
	if remote.Version < local.Version {
		return local
	}
	return remote
}

package main

/*

```
In fact, it’s a proven impossibility to absolutely guarantee forward progress in any distributed consensus system that is susceptible to message losses.
```
```
Note that the proposer can always abandon a proposal and forget all about it, as long as it never tries to issue another proposal with the same number.
```


One optimization that can be made in this case, assuming a single stable leader, is to skip the prepare phase.
If we assume that the leadership will remain "sticky", there is no need to continue sending out proposal numbers -
the first proposal number sent out will never be "overridden" since there is only one leader.

^^^^^^^^^ LEADERSHIP IS ONLY ADVISORY HERE ^^^^^^^^^^^^^^^
a client may send StableConsensus to any node. Acceptors still refuse a propose lower than what they promised,
so the worst case is a Fail and a retry with a full ballot.


if i get promises from a majority of nodes and then my propose request is declined i should not be worried,
whoever went above my n has seen the value my quorum accepted (if any) and carries it forward.
The request is retried with a fresh ballot anyway, after a randomized backoff, up to retry_max times.


NOTES

- the ledger is shared by every learner, it's the only state that is not owned by a single node.
- nodes never block forever on a full mailbox: send_timeout turns a full mailbox into a fatal error for the sender.
- a node never writes to its own mailbox, what it sends to itself is queued locally. channel_capacity >= nodes.
- leader announcements never block: a client that stops listening only loses its oldest announcements.
- a node that stops (Terminate or a protocol violation) keeps its mailbox, messages sent to it are dropped.
- once an acceptor moved to round r, rounds below r are closed for it. A proposer that missed a round hears it from the fails.


TODO

[LEDGER]
- one ledger per learner, with the seeker's anti-entropy exchange to repair the gaps	[ ] ----

*/
